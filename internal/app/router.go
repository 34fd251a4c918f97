package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lats-pos/receiving/internal/draft"
	"github.com/lats-pos/receiving/internal/inventory"
	"github.com/lats-pos/receiving/internal/observability"
	"github.com/lats-pos/receiving/internal/order"
	"github.com/lats-pos/receiving/internal/quality"
	"github.com/lats-pos/receiving/internal/receiving"
	"github.com/lats-pos/receiving/internal/returns"
	"github.com/lats-pos/receiving/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	OrderHandler     *order.Handler
	DraftHandler     *draft.Handler
	QualityHandler   *quality.Handler
	ReceivingHandler *receiving.Handler
	ReturnsHandler   *returns.Handler
	InventoryHandler *inventory.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.OrderHandler != nil {
			params.OrderHandler.MountRoutes(r)
		}
		if params.DraftHandler != nil {
			params.DraftHandler.MountRoutes(r)
		}
		if params.QualityHandler != nil {
			params.QualityHandler.MountRoutes(r)
		}
		if params.ReceivingHandler != nil {
			params.ReceivingHandler.MountRoutes(r)
		}
		if params.ReturnsHandler != nil {
			params.ReturnsHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
