// Package access decides whether an authenticated principal may perform an
// operation inside its owner scope.
package access

import "github.com/congo-pay/moneyledger/internal/ledger"

// Permission names a class of ledger operations.
type Permission string

const (
	Read     Permission = "ledger:read"
	Write    Permission = "ledger:write"
	Maintain Permission = "ledger:maintain"
)

// Principal is the caller as established by authentication.
type Principal struct {
	SubjectID string
	Scope     ledger.OwnerScope
	Role      string
}

// Authorizer answers permission checks.
type Authorizer interface {
	Allowed(p Principal, perm Permission) bool
}

// AllowAll grants everything. Used in development and tests.
type AllowAll struct{}

func (AllowAll) Allowed(Principal, Permission) bool { return true }

// RolePolicy grants permissions by role. A principal without a role is
// treated as DefaultRole.
type RolePolicy struct {
	Roles       map[string][]Permission
	DefaultRole string
}

// DefaultPolicy lets owners do everything, members read and write, and
// viewers only read.
func DefaultPolicy() RolePolicy {
	return RolePolicy{
		Roles: map[string][]Permission{
			"owner":  {Read, Write, Maintain},
			"admin":  {Read, Write, Maintain},
			"member": {Read, Write},
			"viewer": {Read},
		},
		DefaultRole: "owner",
	}
}

func (r RolePolicy) Allowed(p Principal, perm Permission) bool {
	role := p.Role
	if role == "" {
		role = r.DefaultRole
	}
	for _, granted := range r.Roles[role] {
		if granted == perm {
			return true
		}
	}
	return false
}
