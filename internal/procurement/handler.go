package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/platform/httpx"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// Handler wires HTTP endpoints for the procurement chain.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/demands", h.handleCreateDemand)
	r.Post("/demands/{id}/verify", h.handleVerifyDemand)
	r.Post("/demands/{id}/approve", h.handleApproveDemand)
	r.Post("/demands/{id}/reject", h.handleRejectDemand)

	r.Post("/orders", h.handleCreateOrder)
	r.Post("/orders/{id}/submit", h.handleSubmitOrder)
	r.Post("/orders/{id}/verify", h.handleVerifyOrder)
	r.Post("/orders/{id}/complete", h.handleCompleteOrder)

	r.Post("/receipts", h.handleCreateReceipt)
	r.Post("/receipts/{id}/approve", h.handleApproveReceipt)
	r.Post("/receipts/{id}/reject", h.handleRejectReceipt)
}

type lineItemRequest struct {
	Name          string  `json:"name" validate:"required"`
	Specification string  `json:"specification"`
	Unit          string  `json:"unit"`
	Quantity      float64 `json:"quantity" validate:"gt=0"`
	Rate          float64 `json:"rate" validate:"gte=0"`
	Remarks       string  `json:"remarks"`
}

func (l lineItemRequest) toLine() LineItem {
	return LineItem{
		Name:          l.Name,
		Specification: l.Specification,
		Unit:          l.Unit,
		Quantity:      l.Quantity,
		Rate:          l.Rate,
		Remarks:       l.Remarks,
	}
}

type createDemandRequest struct {
	FiscalYear string            `json:"fiscal_year" validate:"required"`
	Date       string            `json:"date" validate:"required"`
	Purpose    string            `json:"purpose" validate:"required"`
	Lines      []lineItemRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) handleCreateDemand(w http.ResponseWriter, r *http.Request) {
	var req createDemandRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineItem, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.toLine()
	}
	demand, err := h.service.CreateDemand(r.Context(), CreateDemandInput{
		FiscalYear: req.FiscalYear,
		Date:       parseDate(req.Date),
		Purpose:    req.Purpose,
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, demand)
}

type verifyDemandRequest struct {
	StockRemark string `json:"stock_remark" validate:"required,oneof=market-required in-stock"`
}

func (h *Handler) handleVerifyDemand(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req verifyDemandRequest
	if !h.decode(w, r, &req) {
		return
	}
	demand, err := h.service.VerifyDemand(r.Context(), h.id(r), actor, req.StockRemark)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, demand)
}

func (h *Handler) handleApproveDemand(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	demand, err := h.service.ApproveDemand(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, demand)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleRejectDemand(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	demand, err := h.service.RejectDemand(r.Context(), h.id(r), actor, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, demand)
}

type createOrderRequest struct {
	DemandID     int64             `json:"demand_id" validate:"required"`
	FiscalYear   string            `json:"fiscal_year" validate:"required"`
	Date         string            `json:"date" validate:"required"`
	SupplierName string            `json:"supplier_name"`
	Remarks      string            `json:"remarks"`
	Lines        []lineItemRequest `json:"lines" validate:"omitempty,dive"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineItem, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.toLine()
	}
	order, err := h.service.CreatePurchaseOrder(r.Context(), CreateOrderInput{
		DemandID:     req.DemandID,
		FiscalYear:   req.FiscalYear,
		Date:         parseDate(req.Date),
		SupplierName: req.SupplierName,
		Remarks:      req.Remarks,
		Lines:        lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	h.stepOrder(w, r, h.service.SubmitOrderToAccount)
}

func (h *Handler) handleVerifyOrder(w http.ResponseWriter, r *http.Request) {
	h.stepOrder(w, r, h.service.AccountVerifyOrder)
}

func (h *Handler) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.stepOrder(w, r, h.service.CompleteOrder)
}

func (h *Handler) stepOrder(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, id int64, actor shared.Actor) (PurchaseOrder, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := step(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type receiptLineRequest struct {
	lineItemRequest
	Code           string `json:"code"`
	Classification string `json:"classification" validate:"omitempty,oneof=EXPENDABLE NON_EXPENDABLE"`
	BatchDate      string `json:"batch_date"`
	ExpiryDate     string `json:"expiry_date"`
}

type createReceiptRequest struct {
	FiscalYear string               `json:"fiscal_year" validate:"required"`
	Date       string               `json:"date" validate:"required"`
	Mode       string               `json:"mode" validate:"omitempty,oneof=opening purchase"`
	StoreID    int64                `json:"store_id"`
	Source     string               `json:"source"`
	Remarks    string               `json:"remarks"`
	Lines      []receiptLineRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]ReceiptLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = ReceiptLine{
			LineItem:       l.toLine(),
			Code:           l.Code,
			Classification: inventory.Classification(l.Classification),
			BatchDate:      parseDate(l.BatchDate),
			ExpiryDate:     parseDate(l.ExpiryDate),
		}
	}
	receipt, err := h.service.CreateGoodsReceipt(r.Context(), CreateReceiptInput{
		FiscalYear: req.FiscalYear,
		Date:       parseDate(req.Date),
		Mode:       req.Mode,
		StoreID:    req.StoreID,
		Source:     req.Source,
		Remarks:    req.Remarks,
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleApproveReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.ApproveGoodsReceipt(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleRejectReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	receipt, err := h.service.RejectGoodsReceipt(r.Context(), h.id(r), actor, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user not resolved")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) id(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, workflow.ErrRoleNotAllowed), errors.Is(err, shared.ErrActorMissing):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Processed", err.Error())
	default:
		h.logger.Error("procurement request", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
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
