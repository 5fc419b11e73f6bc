package enums

import "strings"

// TerminalStatus is the connectivity state reported for a physical terminal.
type TerminalStatus string

const (
	TerminalStatusOnline  TerminalStatus = "online"
	TerminalStatusOffline TerminalStatus = "offline"
	TerminalStatusBusy    TerminalStatus = "busy"
	TerminalStatusUnknown TerminalStatus = "unknown"
)

func (t TerminalStatus) String() string {
	return string(t)
}

// Available reports whether a new charge may be started on the terminal.
// Unknown counts as available; the gateway rejects charges for dead devices.
func (t TerminalStatus) Available() bool {
	return t == TerminalStatusOnline || t == TerminalStatusUnknown
}

// ParseTerminalStatus normalizes a stored value, defaulting to unknown.
func ParseTerminalStatus(value string) TerminalStatus {
	switch TerminalStatus(strings.ToLower(strings.TrimSpace(value))) {
	case TerminalStatusOnline:
		return TerminalStatusOnline
	case TerminalStatusOffline:
		return TerminalStatusOffline
	case TerminalStatusBusy:
		return TerminalStatusBusy
	}
	return TerminalStatusUnknown
}
