package enums

import (
	"fmt"
	"strings"
)

// MemberRole is the role a user holds inside an organization.
type MemberRole string

const (
	MemberRoleOwner   MemberRole = "owner"
	MemberRoleAdmin   MemberRole = "admin"
	MemberRoleCashier MemberRole = "cashier"
	MemberRoleScanner MemberRole = "scanner"
)

var validMemberRoles = []MemberRole{
	MemberRoleOwner,
	MemberRoleAdmin,
	MemberRoleCashier,
	MemberRoleScanner,
}

// String implements fmt.Stringer.
func (m MemberRole) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MemberRole.
func (m MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == m {
			return true
		}
	}
	return false
}

// CanOperateTerminals reports whether the role may take payments at the box office.
func (m MemberRole) CanOperateTerminals() bool {
	return m.IsValid()
}

// CanReconcile reports whether the role may trigger manual reconciliation.
func (m MemberRole) CanReconcile() bool {
	return m == MemberRoleOwner || m == MemberRoleAdmin
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	normalized := MemberRole(strings.ToLower(strings.TrimSpace(value)))
	for _, candidate := range validMemberRoles {
		if candidate == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
