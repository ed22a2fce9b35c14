package dispatch

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
	GetIssue(ctx context.Context, id int64) (IssueRequest, error)
	GetReturn(ctx context.Context, id int64) (ReturnRequest, error)
	GetDisposal(ctx context.Context, id int64) (DisposalRequest, error)
	ListNumbers(ctx context.Context, kind, fiscalYear string) ([]string, error)
}

// StockPort exposes the batch-store mutations triggered by transitions.
type StockPort interface {
	Availability(ctx context.Context, itemName string, storeID int64, fiscalYear string) (float64, error)
	Decrement(ctx context.Context, itemName string, storeID int64, qty float64, actorName string) (inventory.DecrementResult, error)
	Increment(ctx context.Context, batchID int64, qty float64, actorName string) (inventory.Record, error)
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

// Service orchestrates issue, return and disposal requests.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	ledger      LedgerInvalidator
	stockPolicy string
}

// NewService constructs the dispatch service. stockPolicy is "advise" or
// "block"; anything else falls back to advise.
func NewService(repo RepositoryPort, stock StockPort, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, ledger LedgerInvalidator, stockPolicy string) *Service {
	if stockPolicy != StockPolicyBlock {
		stockPolicy = StockPolicyAdvise
	}
	return &Service{repo: repo, stock: stock, approvals: approvals, audit: audit, idempotency: idem, ledger: ledger, stockPolicy: stockPolicy}
}

// CreateIssueInput describes a new issue request.
type CreateIssueInput struct {
	FiscalYear string
	Date       time.Time
	StoreID    int64
	IssuedTo   string
	Purpose    string
	Remarks    string
	Lines      []LineItem
}

// CreateReturnInput describes a new return request.
type CreateReturnInput struct {
	FiscalYear string
	Date       time.Time
	StoreID    int64
	ReturnedBy string
	Remarks    string
	Lines      []ReturnLine
}

// CreateDisposalInput describes a new disposal request.
type CreateDisposalInput struct {
	FiscalYear string
	Date       time.Time
	Reason     string
	Remarks    string
	Lines      []LineItem
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

// CreateIssue validates and persists a pending issue request.
func (s *Service) CreateIssue(ctx context.Context, input CreateIssueInput) (IssueRequest, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return IssueRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return IssueRequest{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	if strings.TrimSpace(input.IssuedTo) == "" {
		return IssueRequest{}, fmt.Errorf("%w: issued-to required", ErrValidation)
	}
	if err := validateLines(input.Lines); err != nil {
		return IssueRequest{}, err
	}
	issue := IssueRequest{
		FiscalYear: fy,
		Status:     IssuePending,
		Date:       input.Date,
		StoreID:    input.StoreID,
		IssuedTo:   strings.TrimSpace(input.IssuedTo),
		Purpose:    input.Purpose,
		Lines:      input.Lines,
		Signatures: workflow.Signatures{},
		Remarks:    input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindIssue, fy)
		if err != nil {
			return err
		}
		issue.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixIssue)
		id, err := tx.InsertIssue(ctx, issue)
		if err != nil {
			return err
		}
		issue.ID = id
		return nil
	})
	if err != nil {
		return IssueRequest{}, err
	}
	s.recordAudit(ctx, "", "ISSUE_CREATE", KindIssue, issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

// SubmitIssue forwards a pending issue request for approval.
func (s *Service) SubmitIssue(ctx context.Context, issueID int64, actor shared.Actor) (IssueRequest, error) {
	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return IssueRequest{}, err
	}
	res, err := issueMachine.Step(issue.Status, IssuePendingApproval, actor, time.Now())
	if err != nil {
		return IssueRequest{}, err
	}
	issue.Status = res.Next
	issue.Signatures = workflow.Stamp(issue.Signatures, res)
	if err := s.saveIssue(ctx, issue); err != nil {
		return IssueRequest{}, err
	}
	s.recordApproval(ctx, KindIssue, issue.ID, issue.FiscalYear, actor, shared.ApprovalSubmit, "issue submitted for approval")
	s.recordAudit(ctx, actor.FullName, "ISSUE_SUBMIT", KindIssue, issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

// ApproveIssue marks the request ISSUED and decrements stock for every line,
// oldest expiry first. Lines exceeding availability are reported as
// shortfalls; under the block policy the whole approval is refused, under
// advise the allocation is clamped and the list returned to the caller.
func (s *Service) ApproveIssue(ctx context.Context, issueID int64, actor shared.Actor) (IssueRequest, []Shortfall, error) {
	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return IssueRequest{}, nil, err
	}
	res, err := issueMachine.Step(issue.Status, IssueIssued, actor, time.Now())
	if err != nil {
		return IssueRequest{}, nil, err
	}
	shortfalls, err := s.shortfalls(ctx, issue)
	if err != nil {
		return IssueRequest{}, nil, err
	}
	if len(shortfalls) > 0 && s.stockPolicy == StockPolicyBlock {
		return IssueRequest{}, shortfalls, &InsufficientStockError{Shortfalls: shortfalls}
	}
	key := fmt.Sprintf("ISSUE:%s:%s", issue.FiscalYear, issue.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "dispatch.issue"); err != nil {
			return IssueRequest{}, nil, err
		}
		inserted = true
	}
	issue.Status = res.Next
	issue.Signatures = workflow.Stamp(issue.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		for _, line := range issue.Lines {
			if _, err := s.stock.Decrement(ctx, line.Name, issue.StoreID, line.Quantity, actor.FullName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return IssueRequest{}, nil, err
	}
	s.invalidateLines(ctx, issue.FiscalYear, issue.Lines)
	s.recordApproval(ctx, KindIssue, issue.ID, issue.FiscalYear, actor, shared.ApprovalApprove, "issue approved")
	s.recordAudit(ctx, actor.FullName, "ISSUE_APPROVE", KindIssue, issue.ID, map[string]any{"number": issue.Number, "shortfalls": len(shortfalls)})
	return issue, shortfalls, nil
}

// RejectIssue rejects a pending or submitted issue request.
func (s *Service) RejectIssue(ctx context.Context, issueID int64, actor shared.Actor, note string) (IssueRequest, error) {
	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return IssueRequest{}, err
	}
	res, err := issueMachine.Step(issue.Status, IssueRejected, actor, time.Now())
	if err != nil {
		return IssueRequest{}, err
	}
	issue.Status = res.Next
	issue.Signatures = workflow.Stamp(issue.Signatures, res)
	if err := s.saveIssue(ctx, issue); err != nil {
		return IssueRequest{}, err
	}
	s.recordApproval(ctx, KindIssue, issue.ID, issue.FiscalYear, actor, shared.ApprovalReject, note)
	s.recordAudit(ctx, actor.FullName, "ISSUE_REJECT", KindIssue, issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

func (s *Service) saveIssue(ctx context.Context, issue IssueRequest) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateIssue(ctx, issue)
	})
}

func (s *Service) shortfalls(ctx context.Context, issue IssueRequest) ([]Shortfall, error) {
	var out []Shortfall
	for _, line := range issue.Lines {
		available, err := s.stock.Availability(ctx, line.Name, issue.StoreID, issue.FiscalYear)
		if err != nil {
			return nil, err
		}
		if available < line.Quantity {
			out = append(out, Shortfall{
				Item:      line.Name,
				Demanded:  line.Quantity,
				Available: available,
				Short:     line.Quantity - available,
			})
		}
	}
	return out, nil
}

// CreateReturn validates and persists a pending return request.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (ReturnRequest, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return ReturnRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return ReturnRequest{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	plain := make([]LineItem, len(input.Lines))
	for i, line := range input.Lines {
		plain[i] = line.LineItem
	}
	if err := validateLines(plain); err != nil {
		return ReturnRequest{}, err
	}
	ret := ReturnRequest{
		FiscalYear: fy,
		Status:     ReturnPending,
		Date:       input.Date,
		StoreID:    input.StoreID,
		ReturnedBy: strings.TrimSpace(input.ReturnedBy),
		Lines:      input.Lines,
		Signatures: workflow.Signatures{},
		Remarks:    input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindReturn, fy)
		if err != nil {
			return err
		}
		ret.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixReturn)
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	s.recordAudit(ctx, "", "RETURN_CREATE", KindReturn, ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// ApproveReturn confirms returned goods and increments the referenced batch
// for every line.
func (s *Service) ApproveReturn(ctx context.Context, returnID int64, actor shared.Actor) (ReturnRequest, error) {
	ret, err := s.repo.GetReturn(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	res, err := returnMachine.Step(ret.Status, ReturnApproved, actor, time.Now())
	if err != nil {
		return ReturnRequest{}, err
	}
	key := fmt.Sprintf("RETURN:%s:%s", ret.FiscalYear, ret.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "dispatch.return"); err != nil {
			return ReturnRequest{}, err
		}
		inserted = true
	}
	ret.Status = res.Next
	ret.Signatures = workflow.Stamp(ret.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateReturn(ctx, ret); err != nil {
			return err
		}
		for _, line := range ret.Lines {
			if _, err := s.stock.Increment(ctx, line.BatchID, line.Quantity, actor.FullName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return ReturnRequest{}, err
	}
	for _, line := range ret.Lines {
		s.invalidate(ctx, line.Name, ret.FiscalYear)
	}
	s.recordApproval(ctx, KindReturn, ret.ID, ret.FiscalYear, actor, shared.ApprovalApprove, "return approved")
	s.recordAudit(ctx, actor.FullName, "RETURN_APPROVE", KindReturn, ret.ID, map[string]any{"number": ret.Number, "lines": len(ret.Lines)})
	return ret, nil
}

// RejectReturn rejects a pending return request; no stock effect.
func (s *Service) RejectReturn(ctx context.Context, returnID int64, actor shared.Actor, note string) (ReturnRequest, error) {
	ret, err := s.repo.GetReturn(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	res, err := returnMachine.Step(ret.Status, ReturnRejected, actor, time.Now())
	if err != nil {
		return ReturnRequest{}, err
	}
	ret.Status = res.Next
	ret.Signatures = workflow.Stamp(ret.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateReturn(ctx, ret)
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	s.recordApproval(ctx, KindReturn, ret.ID, ret.FiscalYear, actor, shared.ApprovalReject, note)
	s.recordAudit(ctx, actor.FullName, "RETURN_REJECT", KindReturn, ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// CreateDisposal validates and persists a pending disposal request.
func (s *Service) CreateDisposal(ctx context.Context, input CreateDisposalInput) (DisposalRequest, error) {
	fy, err := shared.NormalizeFiscalYear(input.FiscalYear)
	if err != nil {
		return DisposalRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Date.IsZero() {
		return DisposalRequest{}, fmt.Errorf("%w: date required", ErrValidation)
	}
	if strings.TrimSpace(input.Reason) == "" {
		return DisposalRequest{}, fmt.Errorf("%w: reason required", ErrValidation)
	}
	if err := validateLines(input.Lines); err != nil {
		return DisposalRequest{}, err
	}
	disposal := DisposalRequest{
		FiscalYear: fy,
		Status:     DisposalPending,
		Date:       input.Date,
		Reason:     strings.TrimSpace(input.Reason),
		Lines:      input.Lines,
		Signatures: workflow.Signatures{},
		Remarks:    input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		numbers, err := tx.ListNumbers(ctx, KindDisposal, fy)
		if err != nil {
			return err
		}
		disposal.Number = numbering.Format(numbering.Next(numbers), numbering.DocumentWidth, SuffixDisposal)
		id, err := tx.InsertDisposal(ctx, disposal)
		if err != nil {
			return err
		}
		disposal.ID = id
		return nil
	})
	if err != nil {
		return DisposalRequest{}, err
	}
	s.recordAudit(ctx, "", "DISPOSAL_CREATE", KindDisposal, disposal.ID, map[string]any{"number": disposal.Number})
	return disposal, nil
}

// ApproveDisposal confirms the write-off. Disposal targets batches that are
// already expired or zeroed, so the batch store is left untouched.
func (s *Service) ApproveDisposal(ctx context.Context, disposalID int64, actor shared.Actor) (DisposalRequest, error) {
	disposal, err := s.repo.GetDisposal(ctx, disposalID)
	if err != nil {
		return DisposalRequest{}, err
	}
	res, err := disposalMachine.Step(disposal.Status, DisposalApproved, actor, time.Now())
	if err != nil {
		return DisposalRequest{}, err
	}
	disposal.Status = res.Next
	disposal.Signatures = workflow.Stamp(disposal.Signatures, res)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDisposal(ctx, disposal)
	})
	if err != nil {
		return DisposalRequest{}, err
	}
	s.recordApproval(ctx, KindDisposal, disposal.ID, disposal.FiscalYear, actor, shared.ApprovalApprove, "disposal approved: "+disposal.Reason)
	s.recordAudit(ctx, actor.FullName, "DISPOSAL_APPROVE", KindDisposal, disposal.ID, map[string]any{"number": disposal.Number})
	return disposal, nil
}

func (s *Service) invalidateLines(ctx context.Context, fy string, lines []LineItem) {
	for _, line := range lines {
		s.invalidate(ctx, line.Name, fy)
	}
}

func (s *Service) invalidate(ctx context.Context, itemName, fy string) {
	if s.ledger == nil {
		return
	}
	_ = s.ledger.Invalidate(ctx, itemName, fy)
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
