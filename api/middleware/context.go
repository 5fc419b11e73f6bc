package middleware

import (
	"context"

	pkgAuth "github.com/angelmondragon/terminalpay/pkg/auth"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id pkgAuth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (pkgAuth.Identity, bool) {
	if ctx == nil {
		return pkgAuth.Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(pkgAuth.Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user id as a string, or "".
func UserIDFromContext(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return id.UserID.String()
}

// RoleFromContext returns the caller's member role, or "".
func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return string(id.Role)
}

// POSClientFromContext returns the client the caller's token was issued to.
func POSClientFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.POSClient
}

// WithIdentity seeds ctx as Auth would. Handlers under test use it to skip
// token minting.
func WithIdentity(ctx context.Context, id pkgAuth.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return withIdentity(ctx, id)
}
