package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/sengdao/income-review-go/internal/infra/observability"
	"github.com/sengdao/income-review-go/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.ReviewService, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.MetricsMiddleware(metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Calculations (read-only view of the backend)
		// =============================================
		r.Get("/incomes/calculations/{number}", getCalculationHandler(svc, logger))
		r.Post("/incomes/calculations/{number}/session", openSessionHandler(svc, logger))

		// =============================================
		// Edit sessions
		// =============================================
		r.Route("/incomes/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", getSessionHandler(svc, logger))
			r.Delete("/", discardSessionHandler(svc, logger))

			r.Post("/transactions", addTransactionHandler(svc, logger))
			r.Delete("/transactions", removeTransactionHandler(svc, logger))
			r.Post("/transactions/move", moveTransactionHandler(svc, logger))
			r.Post("/transactions/adjust", adjustTransactionHandler(svc, logger))
			r.Put("/allowances/{title}/months", changeMonthsHandler(svc, logger))
			r.Post("/commit", commitSessionHandler(svc, logger))
		})

		// =============================================
		// Metrics snapshot
		// =============================================
		r.Get("/metrics/review", reviewMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func reviewMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetReviewSnapshot())
	}
}
