// Package auth describes the authenticated caller as seen by the domain.
package auth

import (
	"context"

	"github.com/xenking/marketplace/internal/domain/apperr"
)

// Role is the marketplace role carried by an access token.
type Role string

const (
	RoleUser   Role = "USER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is the authenticated principal of a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal has the ADMIN role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Require fails with ACCESS_DENIED unless the principal holds one of roles.
func (i Identity) Require(roles ...Role) error {
	for _, r := range roles {
		if i.Role == r {
			return nil
		}
	}
	return apperr.Errorf(apperr.AccessDenied, "role %s is not allowed to perform this action", i.Role)
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
