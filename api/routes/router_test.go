package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay/pkg/auth"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "terminalpay", ExpirationMinutes: 30},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	metrics.NewCronJobMetrics(reg).ObserveRun("charge-reconcile", time.Second, nil)
	router := NewRouter(Deps{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}),
		DB:       stubPinger{},
		Gatherer: reg,
	})
	return router, cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.MemberRole) string {
	t.Helper()
	verifier, err := auth.NewVerifier(cfg.JWT)
	require.NoError(t, err)
	token, err := verifier.Mint(time.Now(), auth.Identity{UserID: uuid.New(), Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
		assert.NotEmpty(t, resp.Header().Get("X-Request-Id"), path)
	}
}

func TestMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "terminalpay_job_success_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/payments/bold-terminal/charge"},
		{http.MethodGet, "/api/v1/payments/bold-terminal/charge/BOLD-1"},
		{http.MethodPost, "/api/v1/payments/bold-terminal/reconcile/BOLD-1"},
		{http.MethodGet, "/api/v1/scanner/terminal/available/" + uuid.NewString()},
		{http.MethodPost, "/api/v1/scanner/terminal/assign"},
		{http.MethodDelete, "/api/v1/scanner/terminal/assignment/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/scanner/terminal/T-1/status"},
		{http.MethodPost, "/api/v1/scanner/pos/charge"},
		{http.MethodGet, "/api/v1/scanner/pos/orders/" + uuid.NewString()},
	}
	for _, rt := range routes {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(rt.method, rt.path, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code, "%s %s", rt.method, rt.path)
	}
}

func TestReconcileRequiresAdminRole(t *testing.T) {
	router, cfg := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/bold-terminal/reconcile/BOLD-1", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.MemberRoleCashier))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestTerminalRoutesValidateBeforeServiceCall(t *testing.T) {
	router, cfg := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scanner/terminal/available/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.MemberRoleScanner))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
