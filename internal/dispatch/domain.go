package dispatch

import (
	"errors"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// Document kinds handled by this package.
const (
	KindIssue    = "issue_request"
	KindReturn   = "return_request"
	KindDisposal = "disposal_request"
)

// Number suffixes, one per kind.
const (
	SuffixIssue    = "NI"
	SuffixReturn   = "FI"
	SuffixDisposal = "LI"
)

// Issue request statuses.
const (
	IssuePending         workflow.Status = "PENDING"
	IssuePendingApproval workflow.Status = "PENDING_APPROVAL"
	IssueIssued          workflow.Status = "ISSUED"
	IssueRejected        workflow.Status = "REJECTED"
)

// Return request statuses.
const (
	ReturnPending  workflow.Status = "PENDING"
	ReturnApproved workflow.Status = "APPROVED"
	ReturnRejected workflow.Status = "REJECTED"
)

// Disposal request statuses.
const (
	DisposalPending  workflow.Status = "PENDING"
	DisposalApproved workflow.Status = "APPROVED"
)

// LineItem is one row of an issue, return or disposal document.
type LineItem struct {
	Name          string  `json:"name"`
	Specification string  `json:"specification,omitempty"`
	Unit          string  `json:"unit,omitempty"`
	Quantity      float64 `json:"quantity"`
	Rate          float64 `json:"rate"`
	Remarks       string  `json:"remarks,omitempty"`
}

// Total is quantity times rate.
func (l LineItem) Total() float64 { return l.Quantity * l.Rate }

// IssueRequest is the Nikasa form: goods leaving the store.
type IssueRequest struct {
	ID         int64               `json:"id"`
	FiscalYear string              `json:"fiscal_year"`
	Number     string              `json:"number"`
	Status     workflow.Status     `json:"status"`
	Date       time.Time           `json:"date"`
	StoreID    int64               `json:"store_id,omitempty"`
	IssuedTo   string              `json:"issued_to"`
	Purpose    string              `json:"purpose,omitempty"`
	Lines      []LineItem          `json:"lines"`
	Signatures workflow.Signatures `json:"signatures"`
	Remarks    string              `json:"remarks,omitempty"`
}

// ReturnLine references the batch the goods go back into.
type ReturnLine struct {
	LineItem
	BatchID int64 `json:"batch_id"`
}

// ReturnRequest records goods coming back to the store.
type ReturnRequest struct {
	ID         int64               `json:"id"`
	FiscalYear string              `json:"fiscal_year"`
	Number     string              `json:"number"`
	Status     workflow.Status     `json:"status"`
	Date       time.Time           `json:"date"`
	StoreID    int64               `json:"store_id,omitempty"`
	ReturnedBy string              `json:"returned_by"`
	Lines      []ReturnLine        `json:"lines"`
	Signatures workflow.Signatures `json:"signatures"`
	Remarks    string              `json:"remarks,omitempty"`
}

// DisposalRequest writes off batches that are already expired or zeroed.
// Approving it has no stock effect.
type DisposalRequest struct {
	ID         int64               `json:"id"`
	FiscalYear string              `json:"fiscal_year"`
	Number     string              `json:"number"`
	Status     workflow.Status     `json:"status"`
	Date       time.Time           `json:"date"`
	Reason     string              `json:"reason"`
	Lines      []LineItem          `json:"lines"`
	Signatures workflow.Signatures `json:"signatures"`
	Remarks    string              `json:"remarks,omitempty"`
}

// Shortfall describes one line that cannot be fully served from stock.
type Shortfall struct {
	Item      string  `json:"item"`
	Demanded  float64 `json:"demanded"`
	Available float64 `json:"available"`
	Short     float64 `json:"short"`
}

// Stock policies applied when an issue exceeds availability.
const (
	StockPolicyAdvise = "advise"
	StockPolicyBlock  = "block"
)

var (
	ErrNotFound          = errors.New("dispatch: document not found")
	ErrValidation        = errors.New("dispatch: validation failed")
	ErrInsufficientStock = errors.New("dispatch: insufficient stock")
)

// InsufficientStockError carries the per-line shortfall list when the block
// policy refuses an issue.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string { return ErrInsufficientStock.Error() }

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

var issueMachine = workflow.Machine{
	Kind: KindIssue,
	Transitions: []workflow.Transition{
		{From: IssuePending, To: IssuePendingApproval, Roles: []shared.Role{shared.RoleStorekeeper}, Slot: "storekeeper"},
		{From: IssuePendingApproval, To: IssueIssued, Roles: []shared.Role{shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
		{From: IssuePending, To: IssueRejected, Roles: []shared.Role{shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
		{From: IssuePendingApproval, To: IssueRejected, Roles: []shared.Role{shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
	},
}

var returnMachine = workflow.Machine{
	Kind: KindReturn,
	Transitions: []workflow.Transition{
		{From: ReturnPending, To: ReturnApproved, Roles: []shared.Role{shared.RoleStorekeeper, shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
		{From: ReturnPending, To: ReturnRejected, Roles: []shared.Role{shared.RoleStorekeeper, shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
	},
}

var disposalMachine = workflow.Machine{
	Kind: KindDisposal,
	Transitions: []workflow.Transition{
		{From: DisposalPending, To: DisposalApproved, Roles: []shared.Role{shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
	},
}
