package procurement

import (
	"errors"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// Document kinds owned by this package.
const (
	KindDemand        = "demand"
	KindPurchaseOrder = "purchase_order"
	KindGoodsReceipt  = "goods_receipt_request"
)

// Number suffixes per kind. Purchase order numbers use the KH suffix
// assigned at account verification.
const (
	SuffixDemand  = "MA"
	SuffixOrder   = "KH"
	SuffixReceipt = "DA"
)

// Demand lifecycle (Mag Faram).
const (
	DemandPending  workflow.Status = "PENDING"
	DemandVerified workflow.Status = "VERIFIED"
	DemandApproved workflow.Status = "APPROVED"
	DemandRejected workflow.Status = "REJECTED"
)

// Purchase order lifecycle.
const (
	POPending         workflow.Status = "PENDING"
	POPendingAccount  workflow.Status = "PENDING_ACCOUNT"
	POAccountVerified workflow.Status = "ACCOUNT_VERIFIED"
	POCompleted       workflow.Status = "COMPLETED"
)

// Goods-receipt request lifecycle (Dakhila).
const (
	ReceiptPending  workflow.Status = "PENDING"
	ReceiptApproved workflow.Status = "APPROVED"
	ReceiptRejected workflow.Status = "REJECTED"
)

// Receipt modes. Opening-mode receipts seed the ledger's opening balance.
const (
	ReceiptModeOpening  = "opening"
	ReceiptModePurchase = "purchase"
)

// Stock remarks a storekeeper records when verifying a demand.
const (
	StockRemarkMarketRequired = "market-required"
	StockRemarkInStock        = "in-stock"
)

// LineItem is one row of any document. Total is always derived.
type LineItem struct {
	Name          string  `json:"name"`
	Specification string  `json:"specification,omitempty"`
	Unit          string  `json:"unit,omitempty"`
	Quantity      float64 `json:"quantity"`
	Rate          float64 `json:"rate"`
	Remarks       string  `json:"remarks,omitempty"`
}

// Total returns quantity x rate.
func (l LineItem) Total() float64 {
	return l.Quantity * l.Rate
}

// Demand is the initial request for goods that seeds the procurement chain.
type Demand struct {
	ID          int64
	FiscalYear  string
	Number      string
	Status      workflow.Status
	Date        time.Time
	Purpose     string
	StockRemark string
	Lines       []LineItem
	Signatures  workflow.Signatures
}

// PurchaseOrder references a demand by id and number.
type PurchaseOrder struct {
	ID           int64
	FiscalYear   string
	Number       string
	OrderNumber  string
	DemandID     int64
	DemandNumber string
	SupplierName string
	Status       workflow.Status
	Date         time.Time
	Lines        []LineItem
	Signatures   workflow.Signatures
	Remarks      string
}

// ReceiptLine extends a line item with the batch fields needed to create
// inventory records on approval.
type ReceiptLine struct {
	LineItem
	Code           string                   `json:"code,omitempty"`
	Classification inventory.Classification `json:"classification,omitempty"`
	BatchDate      time.Time                `json:"batch_date,omitempty"`
	ExpiryDate     time.Time                `json:"expiry_date,omitempty"`
}

// GoodsReceiptRequest formalises stock received into inventory.
type GoodsReceiptRequest struct {
	ID         int64
	FiscalYear string
	Number     string
	Status     workflow.Status
	Date       time.Time
	Mode       string
	StoreID    int64
	Source     string
	Lines      []ReceiptLine
	Signatures workflow.Signatures
	Remarks    string
}

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
)

// Machines per document kind.
var (
	demandMachine = workflow.Machine{
		Kind: KindDemand,
		Transitions: []workflow.Transition{
			{From: DemandPending, To: DemandVerified, Roles: []shared.Role{shared.RoleStorekeeper}, Slot: "storekeeper"},
			{From: DemandVerified, To: DemandApproved, Roles: []shared.Role{shared.RoleAdmin, shared.RoleSuperAdmin, shared.RoleApproval}, Slot: "approver"},
			{From: DemandPending, To: DemandRejected, Roles: []shared.Role{shared.RoleAdmin, shared.RoleSuperAdmin, shared.RoleApproval}, Slot: "approver"},
			{From: DemandVerified, To: DemandRejected, Roles: []shared.Role{shared.RoleAdmin, shared.RoleSuperAdmin, shared.RoleApproval}, Slot: "approver"},
		},
	}

	orderMachine = workflow.Machine{
		Kind: KindPurchaseOrder,
		Transitions: []workflow.Transition{
			{From: POPending, To: POPendingAccount, Roles: []shared.Role{shared.RoleStorekeeper}, Slot: "storekeeper"},
			{From: POPendingAccount, To: POAccountVerified, Roles: []shared.Role{shared.RoleAccount}, Slot: "account"},
			{From: POAccountVerified, To: POCompleted, Roles: []shared.Role{shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
		},
	}

	receiptMachine = workflow.Machine{
		Kind: KindGoodsReceipt,
		Transitions: []workflow.Transition{
			{From: ReceiptPending, To: ReceiptApproved, Roles: []shared.Role{shared.RoleStorekeeper, shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
			{From: ReceiptPending, To: ReceiptRejected, Roles: []shared.Role{shared.RoleStorekeeper, shared.RoleAdmin, shared.RoleApproval}, Slot: "approver"},
		},
	}
)
