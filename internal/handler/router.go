package handler

import (
	"net/http"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services groups everything the router needs.
type Services struct {
	Auth      *service.AuthService
	Sessions  *service.SessionReconciler
	Lifecycle *service.LifecycleService
	Directory *service.DirectoryService
	Codes     *service.AccessCodeService
	Settings  *service.SettingsService
	Insights  *service.InsightService
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs *Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svcs.Settings))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Public: authentication
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authRegisterHandler(svcs.Auth, logger))
			r.Post("/login", authLoginHandler(svcs.Auth, logger))
			r.Post("/refresh", authRefreshHandler(svcs.Auth, logger))
			r.Post("/password/reset-request", authResetRequestHandler(svcs.Auth, logger))
			r.Post("/password/reset-confirm", authResetConfirmHandler(svcs.Auth, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(svcs.Auth, svcs.Sessions, logger))
				r.Post("/logout", authLogoutHandler(svcs.Auth, logger))
			})
		})

		// Public: lead capture link and branding
		r.Post("/leads/capture", captureLeadHandler(svcs.Lifecycle, logger))
		r.Get("/settings", getSettingsHandler(svcs.Settings))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, svcs.Sessions, logger))

			// Session state
			r.Get("/session", sessionStateHandler(svcs.Sessions))

			// Prospects
			r.Get("/prospects", listProspectsHandler(svcs.Lifecycle, logger))
			r.Get("/prospects/{prospectId}", getProspectHandler(svcs.Lifecycle, logger))
			r.Group(func(r chi.Router) {
				r.Use(RequireCapability(domain.CapProspectWrite, logger))
				r.Post("/prospects", createProspectHandler(svcs.Lifecycle, logger))
				r.Put("/prospects/{prospectId}", updateProspectHandler(svcs.Lifecycle, logger))
				r.Delete("/prospects/{prospectId}", deleteProspectHandler(svcs.Lifecycle, logger))
				r.Post("/prospects/{prospectId}/convert", convertProspectHandler(svcs.Lifecycle, logger))
			})

			// Remote leads
			r.Get("/leads", listRemoteLeadsHandler(svcs.Lifecycle, logger))
			r.Group(func(r chi.Router) {
				r.Use(RequireCapability(domain.CapLeadConfirm, logger))
				r.Post("/leads/{leadId}/confirm", confirmLeadHandler(svcs.Lifecycle, logger))
				r.Delete("/leads/{leadId}", discardLeadHandler(svcs.Lifecycle, logger))
			})

			// Clients
			r.Get("/clients", listClientsHandler(svcs.Lifecycle, logger))
			r.Get("/clients/{clientId}", getClientHandler(svcs.Lifecycle, logger))
			r.With(RequireCapability(domain.CapClientCancel, logger)).
				Delete("/clients/{clientId}", cancelClientHandler(svcs.Lifecycle, logger))

			// Sales & commissions
			r.Get("/sales", listSalesHandler(svcs.Lifecycle, logger))
			r.With(RequireCapability(domain.CapSaleConclude, logger)).
				Post("/sales", concludeSaleHandler(svcs.Lifecycle, logger))
			r.With(RequireCapability(domain.CapSaleCorrect, logger)).
				Patch("/sales/{saleId}", correctSaleHandler(svcs.Lifecycle, logger))
			r.With(RequireCapability(domain.CapSaleSettle, logger)).
				Post("/sales/{saleId}/settle", settleCommissionHandler(svcs.Lifecycle, logger))

			// Notifications
			r.Get("/notifications", listNotificationsHandler(svcs.Lifecycle, logger))
			r.Post("/notifications/{notifId}/read", markNotificationReadHandler(svcs.Lifecycle, logger))
			r.Post("/notifications/read-all", markAllNotificationsReadHandler(svcs.Lifecycle, logger))

			// Insights
			r.With(RequireCapability(domain.CapInsights, logger)).
				Get("/insights", insightsHandler(svcs.Insights))

			// User administration
			r.Group(func(r chi.Router) {
				r.Use(RequireCapability(domain.CapUserAdmin, logger))
				r.Get("/users", listUsersHandler(svcs.Directory, logger))
				r.Post("/users", createUserHandler(svcs.Directory, logger))
				r.Get("/users/{userId}", getUserHandler(svcs.Directory, logger))
				r.Patch("/users/{userId}/status", updateUserStatusHandler(svcs.Directory, logger))
				r.Delete("/users/{userId}", deleteUserHandler(svcs.Directory, logger))
			})

			// Access code
			r.Group(func(r chi.Router) {
				r.Use(RequireCapability(domain.CapAccessCode, logger))
				r.Get("/access-code", getAccessCodeHandler(svcs.Codes, logger))
				r.Post("/access-code/regenerate", regenerateAccessCodeHandler(svcs.Codes, logger))
			})

			// Settings administration
			r.With(RequireCapability(domain.CapSettingsAdmin, logger)).
				Put("/settings", updateSettingsHandler(svcs.Settings, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(settings *service.SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The settings slot is a cheap read that exercises the data backend.
		start := time.Now()
		_ = settings.Get(r.Context())
		latency := time.Since(start).Milliseconds()

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"checks": []map[string]any{
				{"name": "crm-api", "status": "healthy"},
				{"name": "supabase", "status": "healthy", "latency_ms": latency},
			},
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
	}
}
