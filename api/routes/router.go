package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/terminalpay/api/controllers"
	"github.com/angelmondragon/terminalpay/api/middleware"
	"github.com/angelmondragon/terminalpay/internal/pos"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/internal/terminals"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/redis"
)

// Deps carries everything the router hands to controllers.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     *redis.Client
	Gatherer  prometheus.Gatherer
	Charges   *reconciliation.Service
	Terminals *terminals.AssignmentService
	POS       *pos.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	pingers := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/bold", controllers.BoldWebhook(deps.Charges, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if deps.Redis != nil {
			r.Use(middleware.Idempotency(deps.Redis, deps.Redis.Keys(), middleware.DefaultReplayTTL, logg))
		}

		r.Route("/payments/bold-terminal", func(r chi.Router) {
			r.With(middleware.RequireRole(enums.MemberRole.CanOperateTerminals, logg)).
				Post("/charge", controllers.ChargeCreate(deps.POS, logg))
			r.Get("/charge/{chargeId}", controllers.ChargeStatus(deps.Charges, logg))
			r.With(middleware.RequireRole(enums.MemberRole.CanReconcile, logg)).
				Post("/reconcile/{chargeId}", controllers.ChargeReconcile(deps.Charges, logg))
		})

		r.Route("/scanner/terminal", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.MemberRole.CanOperateTerminals, logg))
			r.Get("/available/{eventId}", controllers.TerminalsAvailable(deps.Terminals, logg))
			r.Post("/assign", controllers.TerminalAssign(deps.Terminals, logg))
			r.Get("/assignment/{eventId}", controllers.TerminalAssignment(deps.Terminals, logg))
			r.Delete("/assignment/{eventId}", controllers.TerminalRelease(deps.Terminals, logg))
			r.Get("/{terminalId}/status", controllers.TerminalStatus(deps.Terminals, logg))
		})

		r.Route("/scanner/pos", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.MemberRole.CanOperateTerminals, logg))
			r.Post("/charge", controllers.POSCharge(deps.POS, logg))
			r.Get("/charge/{chargeId}", controllers.POSChargeStatus(deps.POS, logg))
			r.Get("/orders/{eventId}", controllers.POSPendingOrders(deps.POS, logg))
		})
	})

	return r
}
