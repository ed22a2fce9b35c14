package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	entries []Entry
	opening OpeningBalance
	hasOpen bool
}

func (f *fakeSource) CollectEntries(ctx context.Context, itemKey, fy, classification string) ([]Entry, error) {
	return f.entries, nil
}

func (f *fakeSource) OpeningFromBatches(ctx context.Context, itemKey, fy, classification string) (OpeningBalance, bool, error) {
	return f.opening, f.hasOpen, nil
}

var (
	d1 = time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)
	d2 = time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC)
)

func TestOpeningFallbackFromBatches(t *testing.T) {
	// Bandage: 50@10 in one store, 30@12 in another, no documents.
	asOf := time.Date(2024, 7, 16, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{
		opening: OpeningBalance{Qty: 80, Rate: (50*10 + 30*12) / 80.0, AsOf: asOf},
		hasOpen: true,
	}
	rows, err := NewService(source).Reconstruct(context.Background(), "Bandage", "2081/082", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, TypeOpening, row.Type)
	require.Equal(t, asOf, row.Date)
	require.Equal(t, 80.0, row.Qty)
	require.InDelta(t, 10.75, row.Rate, 1e-9)
	require.Equal(t, 80.0, row.BalQty)
	require.InDelta(t, 10.75, row.BalRate, 1e-9)
	require.InDelta(t, 860.0, row.BalTotal, 1e-9)
}

func TestIncomeThenExpense(t *testing.T) {
	source := &fakeSource{entries: []Entry{
		{Date: d1, RefNo: "0001-DA", Type: TypeIncome, Qty: 100, Rate: 5},
		{Date: d2, RefNo: "0001-NI", Type: TypeExpense, Qty: 40},
	}}
	rows, err := NewService(source).Reconstruct(context.Background(), "Glove", "2081/082", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 100.0, rows[0].BalQty)
	require.InDelta(t, 5.0, rows[0].BalRate, 1e-9)
	require.InDelta(t, 500.0, rows[0].BalTotal, 1e-9)

	// Expense without its own rate is valued at the running weighted rate.
	require.InDelta(t, 5.0, rows[1].Rate, 1e-9)
	require.Equal(t, 60.0, rows[1].BalQty)
	require.InDelta(t, 5.0, rows[1].BalRate, 1e-9)
	require.InDelta(t, 300.0, rows[1].BalTotal, 1e-9)
}

func TestOverIssueClampsToZero(t *testing.T) {
	source := &fakeSource{entries: []Entry{
		{Date: d1, Type: TypeIncome, Qty: 100, Rate: 5},
		{Date: d2, Type: TypeExpense, Qty: 150},
	}}
	rows, err := NewService(source).Reconstruct(context.Background(), "Glove", "2081/082", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 0.0, rows[1].BalQty)
	require.Equal(t, 0.0, rows[1].BalRate)
	require.Equal(t, 0.0, rows[1].BalTotal)
}

func TestWeightedAverageInvariant(t *testing.T) {
	source := &fakeSource{entries: []Entry{
		{Date: d1, Type: TypeOpening, Qty: 50, Rate: 10},
		{Date: d1.AddDate(0, 0, 3), Type: TypeIncome, Qty: 30, Rate: 12},
		{Date: d2, Type: TypeExpense, Qty: 20},
		{Date: d2.AddDate(0, 0, 2), Type: TypeIncome, Qty: 10, Rate: 8},
	}}
	rows, err := NewService(source).Reconstruct(context.Background(), "Bandage", "2081/082", "")
	require.NoError(t, err)
	for _, row := range rows {
		if row.BalQty > 0 {
			require.InDelta(t, row.BalTotal/row.BalQty, row.BalRate, 1e-9)
		}
		require.GreaterOrEqual(t, row.BalQty, 0.0)
		require.GreaterOrEqual(t, row.BalTotal, 0.0)
	}
}

func TestSortIsStableByDate(t *testing.T) {
	// Two entries share a date; collection order is preserved.
	source := &fakeSource{entries: []Entry{
		{Date: d2, RefNo: "0002-DA", Type: TypeIncome, Qty: 5, Rate: 2},
		{Date: d1, RefNo: "0001-DA", Type: TypeIncome, Qty: 10, Rate: 2},
		{Date: d2, RefNo: "0001-NI", Type: TypeExpense, Qty: 3},
	}}
	rows, err := NewService(source).Reconstruct(context.Background(), "Gauze", "2081/082", "")
	require.NoError(t, err)
	require.Equal(t, []string{"0001-DA", "0002-DA", "0001-NI"}, []string{rows[0].RefNo, rows[1].RefNo, rows[2].RefNo})
}

func TestReconstructIsIdempotent(t *testing.T) {
	source := &fakeSource{entries: []Entry{
		{Date: d1, RefNo: "0001-DA", Type: TypeIncome, Qty: 100, Rate: 5},
		{Date: d2, RefNo: "0001-NI", Type: TypeExpense, Qty: 40},
	}}
	svc := NewService(source)

	first, err := svc.Reconstruct(context.Background(), "Glove", "2081/082", "")
	require.NoError(t, err)
	second, err := svc.Reconstruct(context.Background(), "Glove", "2081/082", "")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEmptyLedgerWithoutStock(t *testing.T) {
	rows, err := NewService(&fakeSource{}).Reconstruct(context.Background(), "Unknown", "2081/082", "")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestQuantityCoercesBadValues(t *testing.T) {
	var line docLine
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Gauze","quantity":"12","rate":"n/a"}`), &line))
	require.Equal(t, 12.0, line.Quantity.Float())
	require.Equal(t, 0.0, line.Rate.Float())
}
