package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/terminalpay/api/responses"
	pkgAuth "github.com/angelmondragon/terminalpay/pkg/auth"
	"github.com/angelmondragon/terminalpay/pkg/config"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

// Auth validates the bearer token and seeds the request context and logger
// with the caller's identity. A misconfigured verifier fails every request
// closed.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier, setupErr := pkgAuth.NewVerifier(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if setupErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, setupErr, "auth not configured"))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			id := claims.Identity()
			ctx := withIdentity(r.Context(), id)
			if logg != nil {
				ctx = logg.WithUserID(ctx, id.UserID.String())
				ctx = logg.WithField(ctx, "actor_role", string(id.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
