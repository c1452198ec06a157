// Package auth resolves the caller of a dispatch request into an explicit
// principal that is threaded through every downstream call.
package auth

import (
	"github.com/google/uuid"
)

// Principal identifies who is performing a dispatch. It is produced once
// by the Resolver and passed explicitly; downstream code never re-derives
// the trust tier from raw credentials.
type Principal interface {
	// AttributedUser returns the user id that outcome notifications should
	// be attributed to. ok is false for unattributed system dispatches.
	AttributedUser() (uuid.UUID, bool)

	// Scoped reports whether data access is restricted to rows owned by
	// the attributed user.
	Scoped() bool

	// String is safe for logs.
	String() string
}

// ServicePrincipal is a trusted non-interactive caller (the scheduler or
// another backend process) with full data access. The attributed user, if
// any, comes from the request body rather than the credential.
type ServicePrincipal struct {
	Attributed *uuid.UUID
}

func (p ServicePrincipal) AttributedUser() (uuid.UUID, bool) {
	if p.Attributed == nil {
		return uuid.Nil, false
	}
	return *p.Attributed, true
}

func (p ServicePrincipal) Scoped() bool { return false }

func (p ServicePrincipal) String() string { return "service" }

// UserPrincipal is an authenticated end user. All reads and writes made on
// their behalf are scoped to rows they own.
type UserPrincipal struct {
	ID uuid.UUID
}

func (p UserPrincipal) AttributedUser() (uuid.UUID, bool) { return p.ID, true }

func (p UserPrincipal) Scoped() bool { return true }

func (p UserPrincipal) String() string { return "user:" + p.ID.String() }
