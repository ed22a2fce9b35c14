package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jinsi-erp/jinsi-erp/internal/platform/httpx"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Handler wires HTTP endpoints for the batch store.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleList)
	r.Post("/batches", h.handleCreate)
	r.Get("/availability", h.handleAvailability)
}

type createBatchRequest struct {
	ItemName       string  `json:"item_name" validate:"required"`
	Code           string  `json:"code"`
	Classification string  `json:"classification" validate:"omitempty,oneof=EXPENDABLE NON_EXPENDABLE"`
	Unit           string  `json:"unit"`
	Quantity       float64 `json:"quantity" validate:"gt=0"`
	Rate           float64 `json:"rate" validate:"gte=0"`
	TaxRate        float64 `json:"tax_rate" validate:"gte=0"`
	BatchDate      string  `json:"batch_date"`
	ExpiryDate     string  `json:"expiry_date"`
	StoreID        int64   `json:"store_id"`
	FiscalYear     string  `json:"fiscal_year" validate:"required"`
	Source         string  `json:"source"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	fy, err := shared.NormalizeFiscalYear(req.FiscalYear)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	record, err := h.service.Create(r.Context(), CreateInput{
		ItemName:       req.ItemName,
		Code:           req.Code,
		Classification: Classification(req.Classification),
		Unit:           req.Unit,
		Quantity:       req.Quantity,
		Rate:           req.Rate,
		TaxRate:        req.TaxRate,
		BatchDate:      parseDate(req.BatchDate),
		ExpiryDate:     parseDate(req.ExpiryDate),
		StoreID:        req.StoreID,
		FiscalYear:     fy,
		Source:         req.Source,
		ActorName:      actor.FullName,
	})
	if err != nil {
		h.logger.Error("create batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Create Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	fy := r.URL.Query().Get("fy")
	if item == "" || fy == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item and fy are required")
		return
	}
	records, err := h.service.ListByItem(r.Context(), item, fy)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	fy := r.URL.Query().Get("fy")
	if item == "" || fy == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item and fy are required")
		return
	}
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store"), 10, 64)
	total, err := h.service.Availability(r.Context(), item, storeID, fy)
	if err != nil {
		h.logger.Error("availability", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item": item, "store_id": storeID, "available": total})
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return t
}
