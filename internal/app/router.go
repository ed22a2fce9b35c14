package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jinsi-erp/jinsi-erp/internal/dispatch"
	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/ledger"
	"github.com/jinsi-erp/jinsi-erp/internal/observability"
	"github.com/jinsi-erp/jinsi-erp/internal/procurement"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	DispatchHandler    *dispatch.Handler
	LedgerHandler      *ledger.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router.
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
	r.Use(shared.ActorMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	r.Route("/dispatch", params.DispatchHandler.MountRoutes)
	params.LedgerHandler.MountRoutes(r)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
