package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay/pkg/auth"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "terminalpay", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingOrInvalidToken(t *testing.T) {
	for name, header := range map[string]string{
		"missing":      "",
		"empty bearer": "Bearer ",
		"garbage":      "Bearer invalid",
		"basic scheme": "Basic dXNlcjpwYXNz",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp := httptest.NewRecorder()
			Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
			assert.Equal(t, http.StatusUnauthorized, resp.Code)
		})
	}
}

func TestAuthSeedsContext(t *testing.T) {
	userID := uuid.New()
	verifier, err := auth.NewVerifier(testJWT)
	require.NoError(t, err)
	token, err := verifier.Mint(time.Now(), auth.Identity{
		UserID:    userID,
		Role:      enums.MemberRoleCashier,
		POSClient: "box-office-2",
	})
	require.NoError(t, err)

	var user, role, client string
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = UserIDFromContext(r.Context())
		role = RoleFromContext(r.Context())
		client = POSClientFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID.String(), user)
	assert.Equal(t, "cashier", role)
	assert.Equal(t, "box-office-2", client)
}

func TestAuthFailsClosedWhenMisconfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp := httptest.NewRecorder()
	Auth(config.JWTConfig{}, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(enums.MemberRole.CanReconcile, nil)

	for role, want := range map[string]int{
		"admin":   http.StatusOK,
		"owner":   http.StatusOK,
		"cashier": http.StatusForbidden,
		"":        http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{UserID: uuid.New(), Role: enums.MemberRole(role)}))
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, "role %q", role)
	}
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	handler := RequestID(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, "req-123", resp.Header().Get("X-Request-Id"))

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(resp.Header().Get("X-Request-Id"))
	assert.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "bad id\nwith newline")
	req.Header.Set("X-Cloud-Trace-Context", "105445aa7843bc8bf206b12000100000/1;o=1")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", resp.Header().Get("X-Request-Id"))
}

func TestRecovererReturnsInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}
