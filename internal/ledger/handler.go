package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinsi-erp/jinsi-erp/internal/platform/httpx"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Handler serves ledger reads.
type Handler struct {
	logger  *slog.Logger
	service Reconstructor
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service Reconstructor) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger", h.handleLedger)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	if item == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item is required")
		return
	}
	fy, err := shared.NormalizeFiscalYear(r.URL.Query().Get("fy"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rows, err := h.service.Reconstruct(r.Context(), item, fy, r.URL.Query().Get("class"))
	if err != nil {
		h.logger.Error("ledger reconstruct", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item":        item,
		"fiscal_year": fy,
		"rows":        rows,
	})
}
