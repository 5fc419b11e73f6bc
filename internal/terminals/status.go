package terminals

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/redis"
)

const (
	DefaultStatusCacheTTL = 30 * time.Second
	defaultStatusTimeout  = 10 * time.Second
)

// Gateway is the device lookup the status checker needs.
type Gateway interface {
	GetTerminal(ctx context.Context, terminalID string) (*bold.Terminal, error)
}

// StatusChecker resolves a terminal's status from the busy lease, the status
// cache and finally the gateway. Concurrent lookups of one terminal share a
// single gateway call.
type StatusChecker struct {
	store   Store
	keys    redis.Keys
	leases  *LeaseManager
	gateway Gateway
	logg    *logger.Logger
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

type StatusCheckerParams struct {
	Store    Store
	Keys     redis.Keys
	Leases   *LeaseManager
	Gateway  Gateway
	Logger   *logger.Logger
	CacheTTL time.Duration
	Timeout  time.Duration
}

func NewStatusChecker(params StatusCheckerParams) (*StatusChecker, error) {
	if params.Store == nil {
		return nil, errors.New("status store is required")
	}
	if params.Leases == nil {
		return nil, errors.New("lease manager is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("terminal gateway is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	checker := &StatusChecker{
		store:   params.Store,
		keys:    params.Keys,
		leases:  params.Leases,
		gateway: params.Gateway,
		logg:    params.Logger,
		ttl:     params.CacheTTL,
		timeout: params.Timeout,
	}
	if checker.ttl <= 0 {
		checker.ttl = DefaultStatusCacheTTL
	}
	if checker.timeout <= 0 {
		checker.timeout = defaultStatusTimeout
	}
	return checker, nil
}

// Status never fails: lookup problems degrade to unknown.
func (c *StatusChecker) Status(ctx context.Context, terminalID string) enums.TerminalStatus {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return enums.TerminalStatusUnknown
	}

	busy, err := c.leases.IsBusy(ctx, terminalID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "terminal_id", terminalID), "busy lease lookup failed")
	} else if busy {
		return enums.TerminalStatusBusy
	}

	cacheKey := c.keys.TerminalStatus(terminalID)
	if cached, err := c.store.Get(ctx, cacheKey); err == nil && cached != "" {
		return enums.ParseTerminalStatus(cached)
	}

	result, _, _ := c.group.Do(terminalID, func() (any, error) {
		return c.fetch(ctx, terminalID), nil
	})
	status, ok := result.(enums.TerminalStatus)
	if !ok {
		return enums.TerminalStatusUnknown
	}
	return status
}

// Invalidate drops the cached status so the next lookup hits the gateway.
func (c *StatusChecker) Invalidate(ctx context.Context, terminalID string) error {
	return c.store.Del(ctx, c.keys.TerminalStatus(strings.TrimSpace(terminalID)))
}

func (c *StatusChecker) fetch(ctx context.Context, terminalID string) enums.TerminalStatus {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	logCtx := c.logg.WithField(ctx, "terminal_id", terminalID)
	terminal, err := c.gateway.GetTerminal(callCtx, terminalID)
	if err != nil {
		c.logg.Error(logCtx, "terminal status lookup failed", err)
		return enums.TerminalStatusUnknown
	}

	status := bold.MapTerminalStatus(terminal.Status)
	if err := c.store.Set(ctx, c.keys.TerminalStatus(terminalID), status.String(), c.ttl); err != nil {
		c.logg.Warn(logCtx, "terminal status cache write failed")
	}
	return status
}

var statusMessages = map[enums.TerminalStatus]string{
	enums.TerminalStatusOnline:  "Terminal is online and ready to accept payments",
	enums.TerminalStatusOffline: "Terminal is offline or not responding",
	enums.TerminalStatusBusy:    "Terminal is currently processing another transaction",
	enums.TerminalStatusUnknown: "Unable to determine terminal status",
}

// StatusMessage describes status for the terminal selector.
func StatusMessage(status enums.TerminalStatus) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "Unknown terminal status"
}
