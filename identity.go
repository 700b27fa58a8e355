package rested

import (
	"context"
	"net/http"
)

// Identity represents an authenticated user or service account.
// Users must implement this interface with their own identity type.
type Identity interface {
	// ID returns the unique identifier for this identity (e.g., user ID, service account ID).
	ID() string

	// Roles returns the roles granted to this identity.
	Roles() []string
}

// NoIdentity represents the absence of authentication.
type NoIdentity struct{}

// ID implements Identity.
func (NoIdentity) ID() string {
	return ""
}

// Roles implements Identity.
func (NoIdentity) Roles() []string {
	return nil
}

// IdentityExtractor resolves the caller's identity from an incoming request.
// Returning an error or a nil identity leaves the request anonymous.
type IdentityExtractor func(ctx context.Context, r *http.Request) (Identity, error)

type identityContextKey struct{}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom returns the identity stored in ctx, or NoIdentity.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityContextKey{}).(Identity); ok && id != nil {
		return id
	}
	return NoIdentity{}
}

// IsAnonymous reports whether identity carries no user.
func IsAnonymous(identity Identity) bool {
	return identity == nil || identity.ID() == ""
}

// UserContext resolves the acting user for service-level stamping and
// permission checks.
type UserContext interface {
	CurrentUserID(ctx context.Context) (string, error)
	CurrentUserRoles(ctx context.Context) ([]string, error)
}

// ContextUsers is the default UserContext: it reads the Identity the engine
// stored in the request context.
type ContextUsers struct{}

// CurrentUserID implements UserContext.
func (ContextUsers) CurrentUserID(ctx context.Context) (string, error) {
	return IdentityFrom(ctx).ID(), nil
}

// CurrentUserRoles implements UserContext.
func (ContextUsers) CurrentUserRoles(ctx context.Context) ([]string, error) {
	return IdentityFrom(ctx).Roles(), nil
}
