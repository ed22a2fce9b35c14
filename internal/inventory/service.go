package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByItem(ctx context.Context, itemName, fiscalYear string) ([]Record, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Record, error)
	DistinctItems(ctx context.Context, fiscalYear string) ([]string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns all mutation of the batch store. Only the document workflows
// call the mutators; the ledger engine is a read-only consumer.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create inserts a brand-new batch from an approved goods receipt.
func (s *Service) Create(ctx context.Context, input CreateInput) (Record, error) {
	if strings.TrimSpace(input.ItemName) == "" {
		return Record{}, errors.New("inventory: item name required")
	}
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	if input.Rate < 0 {
		return Record{}, ErrInvalidRate
	}
	if input.Classification == "" {
		input.Classification = ClassificationExpendable
	}
	record := Record{
		ItemName:       strings.TrimSpace(input.ItemName),
		Code:           input.Code,
		Classification: input.Classification,
		Unit:           input.Unit,
		Quantity:       input.Quantity,
		Rate:           input.Rate,
		TaxRate:        input.TaxRate,
		BatchDate:      input.BatchDate,
		ExpiryDate:     input.ExpiryDate,
		StoreID:        input.StoreID,
		FiscalYear:     input.FiscalYear,
		Source:         input.Source,
		UpdatedAt:      time.Now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorName, "BATCH_CREATE", record.ID, map[string]any{
		"item": record.ItemName, "qty": record.Quantity, "rate": record.Rate, "store": record.StoreID,
	})
	return record, nil
}

// Increment adds quantity to one existing batch (returns, over-receipt fixes).
func (s *Service) Increment(ctx context.Context, batchID int64, qty float64, actorName string) (Record, error) {
	if qty <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	var updated Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		record.Quantity += qty
		record.UpdatedAt = time.Now()
		if err := tx.UpdateQuantity(ctx, record.ID, record.Quantity, record.UpdatedAt); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, actorName, "BATCH_INCREMENT", batchID, map[string]any{"qty": qty})
	return updated, nil
}

// Decrement allocates qty across matching batches oldest-expiry-first.
// Batches without an expiry date sort last. When batches run out the
// decrement is applied partially and the shortfall is reported, not
// rejected; sufficiency is the caller's advisory concern.
func (s *Service) Decrement(ctx context.Context, itemName string, storeID int64, qty float64, actorName string) (DecrementResult, error) {
	if qty <= 0 {
		return DecrementResult{}, ErrInvalidQuantity
	}
	var result DecrementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListForAllocation(ctx, itemName, storeID)
		if err != nil {
			return err
		}
		sortForAllocation(batches)
		remaining := qty
		now := time.Now()
		for i := range batches {
			if remaining <= 0 {
				break
			}
			batch := &batches[i]
			if batch.Quantity <= 0 {
				continue
			}
			take := batch.Quantity
			if take > remaining {
				take = remaining
			}
			batch.Quantity -= take
			if batch.Quantity < 0 {
				batch.Quantity = 0
			}
			if err := tx.UpdateQuantity(ctx, batch.ID, batch.Quantity, now); err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, Allocation{BatchID: batch.ID, Qty: take})
			result.Applied += take
			remaining -= take
		}
		result.Short = remaining
		return nil
	})
	if err != nil {
		return DecrementResult{}, err
	}
	s.recordAudit(ctx, actorName, "BATCH_DECREMENT", storeID, map[string]any{
		"item": itemName, "qty": qty, "applied": result.Applied, "short": result.Short,
	})
	return result, nil
}

// Availability sums on-hand quantity for an item, optionally per store
// (storeID 0 means all stores).
func (s *Service) Availability(ctx context.Context, itemName string, storeID int64, fiscalYear string) (float64, error) {
	records, err := s.repo.ListByItem(ctx, itemName, fiscalYear)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, r := range records {
		if storeID != 0 && r.StoreID != storeID {
			continue
		}
		total += r.Quantity
	}
	return total, nil
}

// ListByItem returns all batches in an item's ledger family.
func (s *Service) ListByItem(ctx context.Context, itemName, fiscalYear string) ([]Record, error) {
	return s.repo.ListByItem(ctx, itemName, fiscalYear)
}

// ListExpired returns batches whose expiry date has passed.
func (s *Service) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return s.repo.ListExpired(ctx, asOf)
}

// DistinctItems lists the item names known in a fiscal year.
func (s *Service) DistinctItems(ctx context.Context, fiscalYear string) ([]string, error) {
	return s.repo.DistinctItems(ctx, fiscalYear)
}

func sortForAllocation(batches []Record) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiryDate.IsZero() && b.ExpiryDate.IsZero():
			return a.ID < b.ID
		case a.ExpiryDate.IsZero():
			return false
		case b.ExpiryDate.IsZero():
			return true
		case a.ExpiryDate.Equal(b.ExpiryDate):
			return a.ID < b.ID
		default:
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
	})
}

func (s *Service) recordAudit(ctx context.Context, actorName, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorName: actorName,
		Action:    action,
		Entity:    "inventory_batch",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
	})
}
