package dispatch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jinsi-erp/jinsi-erp/internal/platform/httpx"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// Handler wires HTTP endpoints for issue, return and disposal requests.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the dispatch handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/issues", h.handleCreateIssue)
	r.Post("/issues/{id}/submit", h.handleSubmitIssue)
	r.Post("/issues/{id}/approve", h.handleApproveIssue)
	r.Post("/issues/{id}/reject", h.handleRejectIssue)

	r.Post("/returns", h.handleCreateReturn)
	r.Post("/returns/{id}/approve", h.handleApproveReturn)
	r.Post("/returns/{id}/reject", h.handleRejectReturn)

	r.Post("/disposals", h.handleCreateDisposal)
	r.Post("/disposals/{id}/approve", h.handleApproveDisposal)
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

type createIssueRequest struct {
	FiscalYear string            `json:"fiscal_year" validate:"required"`
	Date       string            `json:"date" validate:"required"`
	StoreID    int64             `json:"store_id"`
	IssuedTo   string            `json:"issued_to" validate:"required"`
	Purpose    string            `json:"purpose"`
	Remarks    string            `json:"remarks"`
	Lines      []lineItemRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineItem, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.toLine()
	}
	issue, err := h.service.CreateIssue(r.Context(), CreateIssueInput{
		FiscalYear: req.FiscalYear,
		Date:       parseDate(req.Date),
		StoreID:    req.StoreID,
		IssuedTo:   req.IssuedTo,
		Purpose:    req.Purpose,
		Remarks:    req.Remarks,
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, issue)
}

func (h *Handler) handleSubmitIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	issue, err := h.service.SubmitIssue(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issue)
}

type issueResponse struct {
	IssueRequest
	Shortfalls []Shortfall `json:"shortfalls,omitempty"`
}

func (h *Handler) handleApproveIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	issue, shortfalls, err := h.service.ApproveIssue(r.Context(), h.id(r), actor)
	if err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			httpx.JSON(w, http.StatusConflict, map[string]any{
				"title":      "Insufficient Stock",
				"shortfalls": insufficient.Shortfalls,
			})
			return
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issueResponse{IssueRequest: issue, Shortfalls: shortfalls})
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleRejectIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	issue, err := h.service.RejectIssue(r.Context(), h.id(r), actor, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issue)
}

type returnLineRequest struct {
	lineItemRequest
	BatchID int64 `json:"batch_id" validate:"required"`
}

type createReturnRequest struct {
	FiscalYear string              `json:"fiscal_year" validate:"required"`
	Date       string              `json:"date" validate:"required"`
	StoreID    int64               `json:"store_id"`
	ReturnedBy string              `json:"returned_by"`
	Remarks    string              `json:"remarks"`
	Lines      []returnLineRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]ReturnLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = ReturnLine{LineItem: l.toLine(), BatchID: l.BatchID}
	}
	ret, err := h.service.CreateReturn(r.Context(), CreateReturnInput{
		FiscalYear: req.FiscalYear,
		Date:       parseDate(req.Date),
		StoreID:    req.StoreID,
		ReturnedBy: req.ReturnedBy,
		Remarks:    req.Remarks,
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleApproveReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ret, err := h.service.ApproveReturn(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleRejectReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	ret, err := h.service.RejectReturn(r.Context(), h.id(r), actor, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

type createDisposalRequest struct {
	FiscalYear string            `json:"fiscal_year" validate:"required"`
	Date       string            `json:"date" validate:"required"`
	Reason     string            `json:"reason" validate:"required"`
	Remarks    string            `json:"remarks"`
	Lines      []lineItemRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) handleCreateDisposal(w http.ResponseWriter, r *http.Request) {
	var req createDisposalRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineItem, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.toLine()
	}
	disposal, err := h.service.CreateDisposal(r.Context(), CreateDisposalInput{
		FiscalYear: req.FiscalYear,
		Date:       parseDate(req.Date),
		Reason:     req.Reason,
		Remarks:    req.Remarks,
		Lines:      lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, disposal)
}

func (h *Handler) handleApproveDisposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	disposal, err := h.service.ApproveDisposal(r.Context(), h.id(r), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, disposal)
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
		h.logger.Error("dispatch request", slog.Any("error", err))
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
