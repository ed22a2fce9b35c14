package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/numbering"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDemand(ctx context.Context, id int64) (Demand, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptRequest, error)
	// ListNumbers returns every stored document number for kind and fiscal
	// year; numbering derives max+1 from it on each call.
	ListNumbers(ctx context.Context, kind, fiscalYear string) ([]string, error)
	ListOrderNumbers(ctx context.Context, fiscalYear string) ([]string, error)
}

// InventoryPort exposes the batch-store mutation used on receipt approval.
type InventoryPort interface {
	Create(ctx context.Context, input inventory.CreateInput) (inventory.Record, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records the approval history of every transition.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// LedgerInvalidator drops cached ledgers for items a transition touched.
type LedgerInvalidator interface {
	Invalidate(ctx context.Context, itemName, fiscalYear string) error
}

// IdempotencyPort guards stock-affecting transitions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the demand -> purchase order -> goods receipt chain.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	ledger      LedgerInvalidator
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, ledger LedgerInvalidator) *Service {
	return &Service{repo: repo, inventory: inv, approvals: approvals, audit: audit, idempotency: idem, ledger: ledger}
}

// CreateDemandInput describes a new demand.
type CreateDemandInput struct {
	FiscalYear string
	Date       time.Time
	Purpose    string
	Lines      []LineItem
}

// CreateOrderInput describes a new purchase order drawn from a demand.
type CreateOrderInput struct {
	DemandID     int64
	FiscalYear   string
	Date         time.Time
	SupplierName string
	Remarks      string
	Lines        []LineItem
}

// CreateReceiptInput describes a new goods-receipt request.
type CreateReceiptInput struct {
	FiscalYear string
	Date       time.Time
	Mode       string
	StoreID    int64
	Source     string
	Remarks    string
	Lines      []ReceiptLine
}

func validateLines(lines []LineItem) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line item required", ErrValidation)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.Name) == "" {
			return fmt.Errorf("%w: line item name required", ErrValidation)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line quantity must be positive", ErrValidation)
		}
	}
	return nil
}

// CreateDemand validates and persists a pending demand with the next number.
func (s *Service) CreateDemand(ctx context.Context, input CreateDemandInput) (Demand, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return Demand{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return Demand{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	if strings.TrimSpace(input.Purpose) == "" {
		return Demand{}, fmt.Errorf("%w: purpose required", ErrValidation)
	}
	if err := validateLines(input.Lines); err != nil {
		return Demand{}, err
	}
	demand := Demand{
		FiscalYear: fy,
		Status:     DemandPending,
		Date:       input.Date,
		Purpose:    strings.TrimSpace(input.Purpose),
		Lines:      input.Lines,
		Signatures: workflow.Signatures{},
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindDemand, fy)
		if err != nil {
			return err
		}
		demand.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixDemand)
		id, err := tx.InsertDemand(ctx, demand)
		if err != nil {
			return err
		}
		demand.ID = id
		return nil
	})
	if err != nil {
		return Demand{}, err
	}
	s.recordAudit(ctx, "", "DEMAND_CREATE", KindDemand, demand.ID, map[string]any{"number": demand.Number})
	return demand, nil
}

// VerifyDemand moves a demand to VERIFIED, recording the storekeeper's stock
// remark ("market-required" or "in-stock").
func (s *Service) VerifyDemand(ctx context.Context, demandID int64, actor shared.Actor, stockRemark string) (Demand, error) {
	if stockRemark != StockRemarkMarketRequired && stockRemark != StockRemarkInStock {
		return Demand{}, fmt.Errorf("%w: unknown stock remark %q", ErrValidation, stockRemark)
	}
	demand, err := s.repo.GetDemand(ctx, demandID)
	if err != nil {
		return Demand{}, err
	}
	res, err := demandMachine.Step(demand.Status, DemandVerified, actor, time.Now())
	if err != nil {
		return Demand{}, err
	}
	demand.Status = res.Next
	demand.StockRemark = stockRemark
	demand.Signatures = workflow.Stamp(demand.Signatures, res)
	if err := s.saveDemand(ctx, demand, actor, shared.ApprovalVerify, "demand verified: "+stockRemark); err != nil {
		return Demand{}, err
	}
	return demand, nil
}

// ApproveDemand moves a verified demand to APPROVED.
func (s *Service) ApproveDemand(ctx context.Context, demandID int64, actor shared.Actor) (Demand, error) {
	return s.stepDemand(ctx, demandID, DemandApproved, actor, shared.ApprovalApprove, "demand approved")
}

// RejectDemand rejects a pending or verified demand.
func (s *Service) RejectDemand(ctx context.Context, demandID int64, actor shared.Actor, note string) (Demand, error) {
	return s.stepDemand(ctx, demandID, DemandRejected, actor, shared.ApprovalReject, note)
}

func (s *Service) stepDemand(ctx context.Context, demandID int64, to workflow.Status, actor shared.Actor, action shared.ApprovalAction, note string) (Demand, error) {
	demand, err := s.repo.GetDemand(ctx, demandID)
	if err != nil {
		return Demand{}, err
	}
	res, err := demandMachine.Step(demand.Status, to, actor, time.Now())
	if err != nil {
		return Demand{}, err
	}
	demand.Status = res.Next
	demand.Signatures = workflow.Stamp(demand.Signatures, res)
	if err := s.saveDemand(ctx, demand, actor, action, note); err != nil {
		return Demand{}, err
	}
	return demand, nil
}

func (s *Service) saveDemand(ctx context.Context, demand Demand, actor shared.Actor, action shared.ApprovalAction, note string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDemand(ctx, demand)
	})
	if err != nil {
		return err
	}
	s.recordApproval(ctx, KindDemand, demand.ID, demand.FiscalYear, actor, action, note)
	s.recordAudit(ctx, actor.FullName, "DEMAND_"+string(action), KindDemand, demand.ID, map[string]any{"number": demand.Number, "status": demand.Status})
	return nil
}

// CreatePurchaseOrder persists a pending order referencing a demand.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return PurchaseOrder{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	demand, err := s.repo.GetDemand(ctx, input.DemandID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	lines := input.Lines
	if len(lines) == 0 {
		lines = demand.Lines
	}
	if err := validateLines(lines); err != nil {
		return PurchaseOrder{}, err
	}
	order := PurchaseOrder{
		FiscalYear:   fy,
		DemandID:     demand.ID,
		DemandNumber: demand.Number,
		SupplierName: strings.TrimSpace(input.SupplierName),
		Status:       POPending,
		Date:         input.Date,
		Lines:        lines,
		Signatures:   workflow.Signatures{},
		Remarks:      input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindPurchaseOrder, fy)
		if err != nil {
			return err
		}
		order.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixOrder)
		id, err := tx.InsertPurchaseOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "", "ORDER_CREATE", KindPurchaseOrder, order.ID, map[string]any{"number": order.Number, "demand": demand.Number})
	return order, nil
}

// SubmitOrderToAccount forwards a pending order to the account section.
func (s *Service) SubmitOrderToAccount(ctx context.Context, orderID int64, actor shared.Actor) (PurchaseOrder, error) {
	return s.stepOrder(ctx, orderID, POPendingAccount, actor, shared.ApprovalSubmit, "order submitted to account")
}

// AccountVerifyOrder verifies an order. The sequential order number is
// generated on the first verification only: max of existing order numbers in
// the fiscal year plus one, zero-padded to three digits with the KH suffix.
func (s *Service) AccountVerifyOrder(ctx context.Context, orderID int64, actor shared.Actor) (PurchaseOrder, error) {
	order, err := s.repo.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	res, err := orderMachine.Step(order.Status, POAccountVerified, actor, time.Now())
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Status = res.Next
	order.Signatures = workflow.Stamp(order.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if order.OrderNumber == "" {
			numbers, err := tx.ListOrderNumbers(ctx, order.FiscalYear)
			if err != nil {
				return err
			}
			order.OrderNumber = numbering.Format(numbering.Next(numbers), numbering.OrderWidth, SuffixOrder)
		}
		return tx.UpdatePurchaseOrder(ctx, order)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, KindPurchaseOrder, order.ID, order.FiscalYear, actor, shared.ApprovalVerify, "order verified by account")
	s.recordAudit(ctx, actor.FullName, "ORDER_VERIFY", KindPurchaseOrder, order.ID, map[string]any{"number": order.Number, "order_number": order.OrderNumber})
	return order, nil
}

// CompleteOrder marks a verified order as completed.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64, actor shared.Actor) (PurchaseOrder, error) {
	return s.stepOrder(ctx, orderID, POCompleted, actor, shared.ApprovalApprove, "order completed")
}

func (s *Service) stepOrder(ctx context.Context, orderID int64, to workflow.Status, actor shared.Actor, action shared.ApprovalAction, note string) (PurchaseOrder, error) {
	order, err := s.repo.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	res, err := orderMachine.Step(order.Status, to, actor, time.Now())
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Status = res.Next
	order.Signatures = workflow.Stamp(order.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePurchaseOrder(ctx, order)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, KindPurchaseOrder, order.ID, order.FiscalYear, actor, action, note)
	s.recordAudit(ctx, actor.FullName, "ORDER_"+string(action), KindPurchaseOrder, order.ID, map[string]any{"number": order.Number, "status": order.Status})
	return order, nil
}

// CreateGoodsReceipt persists a pending goods-receipt request.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateReceiptInput) (GoodsReceiptRequest, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return GoodsReceiptRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return GoodsReceiptRequest{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	if input.Mode == "" {
		input.Mode = ReceiptModePurchase
	}
	if input.Mode != ReceiptModeOpening && input.Mode != ReceiptModePurchase {
		return GoodsReceiptRequest{}, fmt.Errorf("%w: unknown receipt mode %q", ErrValidation, input.Mode)
	}
	plain := make([]LineItem, len(input.Lines))
	for i, line := range input.Lines {
		plain[i] = line.LineItem
	}
	if err := validateLines(plain); err != nil {
		return GoodsReceiptRequest{}, err
	}
	receipt := GoodsReceiptRequest{
		FiscalYear: fy,
		Status:     ReceiptPending,
		Date:       input.Date,
		Mode:       input.Mode,
		StoreID:    input.StoreID,
		Source:     input.Source,
		Lines:      input.Lines,
		Signatures: workflow.Signatures{},
		Remarks:    input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindGoodsReceipt, fy)
		if err != nil {
			return err
		}
		receipt.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixReceipt)
		id, err := tx.InsertGoodsReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		return nil
	})
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	s.recordAudit(ctx, "", "RECEIPT_CREATE", KindGoodsReceipt, receipt.ID, map[string]any{"number": receipt.Number, "mode": receipt.Mode})
	return receipt, nil
}

// ApproveGoodsReceipt approves the request and creates one inventory batch
// per line. The stock effect is guarded by an idempotency key so a replayed
// approval cannot double the batches.
func (s *Service) ApproveGoodsReceipt(ctx context.Context, receiptID int64, actor shared.Actor) (GoodsReceiptRequest, error) {
	receipt, err := s.repo.GetGoodsReceipt(ctx, receiptID)
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	res, err := receiptMachine.Step(receipt.Status, ReceiptApproved, actor, time.Now())
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	key := fmt.Sprintf("RECEIPT:%s:%s", receipt.FiscalYear, receipt.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receipt"); err != nil {
			return GoodsReceiptRequest{}, err
		}
		inserted = true
	}
	receipt.Status = res.Next
	receipt.Signatures = workflow.Stamp(receipt.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateGoodsReceipt(ctx, receipt); err != nil {
			return err
		}
		source := receipt.Source
		if receipt.Mode == ReceiptModeOpening && source == "" {
			source = "Opening"
		}
		for _, line := range receipt.Lines {
			_, err := s.inventory.Create(ctx, inventory.CreateInput{
				ItemName:       line.Name,
				Code:           line.Code,
				Classification: line.Classification,
				Unit:           line.Unit,
				Quantity:       line.Quantity,
				Rate:           line.Rate,
				BatchDate:      line.BatchDate,
				ExpiryDate:     line.ExpiryDate,
				StoreID:        receipt.StoreID,
				FiscalYear:     receipt.FiscalYear,
				Source:         source,
				ActorName:      actor.FullName,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return GoodsReceiptRequest{}, err
	}
	s.invalidateLedger(ctx, receipt)
	s.recordApproval(ctx, KindGoodsReceipt, receipt.ID, receipt.FiscalYear, actor, shared.ApprovalApprove, "receipt approved")
	s.recordAudit(ctx, actor.FullName, "RECEIPT_APPROVE", KindGoodsReceipt, receipt.ID, map[string]any{"number": receipt.Number, "lines": len(receipt.Lines)})
	return receipt, nil
}

// RejectGoodsReceipt rejects a pending request; no stock effect.
func (s *Service) RejectGoodsReceipt(ctx context.Context, receiptID int64, actor shared.Actor, note string) (GoodsReceiptRequest, error) {
	receipt, err := s.repo.GetGoodsReceipt(ctx, receiptID)
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	res, err := receiptMachine.Step(receipt.Status, ReceiptRejected, actor, time.Now())
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	receipt.Status = res.Next
	receipt.Signatures = workflow.Stamp(receipt.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateGoodsReceipt(ctx, receipt)
	})
	if err != nil {
		return GoodsReceiptRequest{}, err
	}
	s.recordApproval(ctx, KindGoodsReceipt, receipt.ID, receipt.FiscalYear, actor, shared.ApprovalReject, note)
	s.recordAudit(ctx, actor.FullName, "RECEIPT_REJECT", KindGoodsReceipt, receipt.ID, map[string]any{"number": receipt.Number})
	return receipt, nil
}

func (s *Service) invalidateLedger(ctx context.Context, receipt GoodsReceiptRequest) {
	if s.ledger == nil {
		return
	}
	for _, line := range receipt.Lines {
		_ = s.ledger.Invalidate(ctx, line.Name, receipt.FiscalYear)
	}
}

func (s *Service) recordApproval(ctx context.Context, kind string, id int64, fy string, actor shared.Actor, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Kind:       kind,
		RefID:      shared.DocumentRef(kind, id),
		FiscalYear: fy,
		ActorName:  actor.FullName,
		ActorRole:  actor.Role,
		Action:     action,
		Note:       note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorName, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorName: actorName,
		Action:    action,
		Entity:    entity,
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
	})
}
