package inventory

import (
	"errors"
	"time"
)

// Classification splits stock into expendable and non-expendable goods.
type Classification string

const (
	// ClassificationExpendable covers consumables (kharcha bhaine jinsi).
	ClassificationExpendable Classification = "EXPENDABLE"
	// ClassificationNonExpendable covers durable assets (kharcha nabhaine jinsi).
	ClassificationNonExpendable Classification = "NON_EXPENDABLE"
)

// Record is a single stock batch. Batches are never deleted, only zeroed;
// quantity stays >= 0 by clamping, never by rejecting an operation.
type Record struct {
	ID             int64
	ItemName       string
	Code           string
	Classification Classification
	Unit           string
	Quantity       float64
	Rate           float64
	TaxRate        float64
	BatchDate      time.Time
	ExpiryDate     time.Time
	StoreID        int64
	FiscalYear     string
	Source         string
	UpdatedAt      time.Time
}

// Expired reports whether the batch's expiry has passed as of asOf.
func (r Record) Expired(asOf time.Time) bool {
	return !r.ExpiryDate.IsZero() && r.ExpiryDate.Before(asOf)
}

// CreateInput describes a new batch from an approved goods receipt.
type CreateInput struct {
	ItemName       string
	Code           string
	Classification Classification
	Unit           string
	Quantity       float64
	Rate           float64
	TaxRate        float64
	BatchDate      time.Time
	ExpiryDate     time.Time
	StoreID        int64
	FiscalYear     string
	Source         string
	ActorName      string
}

// Allocation records how much of a decrement landed on one batch.
type Allocation struct {
	BatchID int64
	Qty     float64
}

// DecrementResult summarises an oldest-expiry-first allocation.
type DecrementResult struct {
	Allocations []Allocation
	Applied     float64
	// Short is the unsatisfied remainder when batches ran out.
	Short float64
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidRate indicates a negative rate.
	ErrInvalidRate = errors.New("inventory: rate must be >= 0")
	// ErrBatchNotFound indicates a missing batch row.
	ErrBatchNotFound = errors.New("inventory: batch not found")
)
