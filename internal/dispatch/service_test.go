package dispatch

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

type memoryDispatchRepo struct {
	issues     map[int64]IssueRequest
	returns    map[int64]ReturnRequest
	disposals  map[int64]DisposalRequest
	nextID     int64
	onRollback func()
}

type memoryDispatchTx struct {
	repo *memoryDispatchRepo
}

func newMemoryDispatchRepo() *memoryDispatchRepo {
	return &memoryDispatchRepo{
		issues:    make(map[int64]IssueRequest),
		returns:   make(map[int64]ReturnRequest),
		disposals: make(map[int64]DisposalRequest),
	}
}

func (r *memoryDispatchRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	issues := maps.Clone(r.issues)
	returns := maps.Clone(r.returns)
	disposals := maps.Clone(r.disposals)
	nextID := r.nextID
	if err := fn(ctx, &memoryDispatchTx{repo: r}); err != nil {
		r.issues = issues
		r.returns = returns
		r.disposals = disposals
		r.nextID = nextID
		if r.onRollback != nil {
			r.onRollback()
		}
		return err
	}
	return nil
}

func (r *memoryDispatchRepo) GetIssue(ctx context.Context, id int64) (IssueRequest, error) {
	i, ok := r.issues[id]
	if !ok {
		return IssueRequest{}, ErrNotFound
	}
	return i, nil
}

func (r *memoryDispatchRepo) GetReturn(ctx context.Context, id int64) (ReturnRequest, error) {
	ret, ok := r.returns[id]
	if !ok {
		return ReturnRequest{}, ErrNotFound
	}
	return ret, nil
}

func (r *memoryDispatchRepo) GetDisposal(ctx context.Context, id int64) (DisposalRequest, error) {
	d, ok := r.disposals[id]
	if !ok {
		return DisposalRequest{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryDispatchRepo) ListNumbers(ctx context.Context, kind, fy string) ([]string, error) {
	var numbers []string
	switch kind {
	case KindIssue:
		for _, i := range r.issues {
			if i.FiscalYear == fy {
				numbers = append(numbers, i.Number)
			}
		}
	case KindReturn:
		for _, ret := range r.returns {
			if ret.FiscalYear == fy {
				numbers = append(numbers, ret.Number)
			}
		}
	case KindDisposal:
		for _, d := range r.disposals {
			if d.FiscalYear == fy {
				numbers = append(numbers, d.Number)
			}
		}
	}
	return numbers, nil
}

func (t *memoryDispatchTx) ListNumbers(ctx context.Context, kind, fy string) ([]string, error) {
	return t.repo.ListNumbers(ctx, kind, fy)
}

func (t *memoryDispatchTx) InsertIssue(ctx context.Context, i IssueRequest) (int64, error) {
	t.repo.nextID++
	i.ID = t.repo.nextID
	t.repo.issues[i.ID] = i
	return i.ID, nil
}

func (t *memoryDispatchTx) UpdateIssue(ctx context.Context, i IssueRequest) error {
	if _, ok := t.repo.issues[i.ID]; !ok {
		return ErrNotFound
	}
	t.repo.issues[i.ID] = i
	return nil
}

func (t *memoryDispatchTx) InsertReturn(ctx context.Context, ret ReturnRequest) (int64, error) {
	t.repo.nextID++
	ret.ID = t.repo.nextID
	t.repo.returns[ret.ID] = ret
	return ret.ID, nil
}

func (t *memoryDispatchTx) UpdateReturn(ctx context.Context, ret ReturnRequest) error {
	if _, ok := t.repo.returns[ret.ID]; !ok {
		return ErrNotFound
	}
	t.repo.returns[ret.ID] = ret
	return nil
}

func (t *memoryDispatchTx) InsertDisposal(ctx context.Context, d DisposalRequest) (int64, error) {
	t.repo.nextID++
	d.ID = t.repo.nextID
	t.repo.disposals[d.ID] = d
	return d.ID, nil
}

func (t *memoryDispatchTx) UpdateDisposal(ctx context.Context, d DisposalRequest) error {
	if _, ok := t.repo.disposals[d.ID]; !ok {
		return ErrNotFound
	}
	t.repo.disposals[d.ID] = d
	return nil
}

type decrementCall struct {
	item    string
	storeID int64
	qty     float64
}

type incrementCall struct {
	batchID int64
	qty     float64
}

type fakeStock struct {
	available  map[string]float64
	decrements []decrementCall
	increments []incrementCall
	failItem   string
}

func (f *fakeStock) Availability(ctx context.Context, itemName string, storeID int64, fy string) (float64, error) {
	return f.available[shared.CanonicalName(itemName)], nil
}

func (f *fakeStock) Decrement(ctx context.Context, itemName string, storeID int64, qty float64, actorName string) (inventory.DecrementResult, error) {
	if f.failItem != "" && shared.CanonicalName(itemName) == f.failItem {
		return inventory.DecrementResult{}, errors.New("batch store unavailable")
	}
	f.decrements = append(f.decrements, decrementCall{item: itemName, storeID: storeID, qty: qty})
	available := f.available[shared.CanonicalName(itemName)]
	applied := qty
	if applied > available {
		applied = available
	}
	f.available[shared.CanonicalName(itemName)] = available - applied
	return inventory.DecrementResult{Applied: applied, Short: qty - applied}, nil
}

func (f *fakeStock) Increment(ctx context.Context, batchID int64, qty float64, actorName string) (inventory.Record, error) {
	f.increments = append(f.increments, incrementCall{batchID: batchID, qty: qty})
	return inventory.Record{ID: batchID, Quantity: qty}, nil
}

type memoryIdempotency struct {
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type fakeInvalidator struct {
	items []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, itemName, fy string) error {
	f.items = append(f.items, itemName)
	return nil
}

var (
	storekeeper = shared.Actor{FullName: "Hari Prasad", Designation: "Store Keeper", Role: shared.RoleStorekeeper}
	accountant  = shared.Actor{FullName: "Sita Sharma", Designation: "Accountant", Role: shared.RoleAccount}
	approver    = shared.Actor{FullName: "Ram Bahadur", Designation: "Office Chief", Role: shared.RoleAdmin}
)

const fy = "2081/082"

func issueFixture() CreateIssueInput {
	return CreateIssueInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		IssuedTo:   "OPD Ward",
		Purpose:    "monthly supply",
		Lines: []LineItem{
			{Name: "Bandage", Unit: "pcs", Quantity: 20, Rate: 10},
		},
	}
}

func newIssueService(stock *fakeStock, policy string) (*Service, *memoryDispatchRepo, *fakeInvalidator) {
	repo := newMemoryDispatchRepo()
	inv := &fakeInvalidator{}
	svc := NewService(repo, stock, nil, nil, nil, inv, policy)
	return svc, repo, inv
}

func TestIssueLifecycle(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{"bandage": 50}}
	svc, repo, inv := newIssueService(stock, StockPolicyAdvise)

	issue, err := svc.CreateIssue(ctx, issueFixture())
	require.NoError(t, err)
	require.Equal(t, "0001-NI", issue.Number)
	require.Equal(t, IssuePending, issue.Status)

	issue, err = svc.SubmitIssue(ctx, issue.ID, storekeeper)
	require.NoError(t, err)
	require.Equal(t, IssuePendingApproval, issue.Status)
	require.Equal(t, "Hari Prasad", issue.Signatures["storekeeper"].Name)

	issue, shortfalls, err := svc.ApproveIssue(ctx, issue.ID, approver)
	require.NoError(t, err)
	require.Empty(t, shortfalls)
	require.Equal(t, IssueIssued, issue.Status)
	require.Equal(t, "Ram Bahadur", issue.Signatures["approver"].Name)

	require.Len(t, stock.decrements, 1)
	require.Equal(t, "Bandage", stock.decrements[0].item)
	require.Equal(t, 20.0, stock.decrements[0].qty)
	require.Equal(t, []string{"Bandage"}, inv.items)

	stored := repo.issues[issue.ID]
	require.Equal(t, IssueIssued, stored.Status)
}

func TestIssueShortfallAdvisePolicy(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{"bandage": 5}}
	svc, _, _ := newIssueService(stock, StockPolicyAdvise)

	issue, err := svc.CreateIssue(ctx, issueFixture())
	require.NoError(t, err)
	_, err = svc.SubmitIssue(ctx, issue.ID, storekeeper)
	require.NoError(t, err)

	issue, shortfalls, err := svc.ApproveIssue(ctx, issue.ID, approver)
	require.NoError(t, err)
	require.Equal(t, IssueIssued, issue.Status)
	require.Equal(t, []Shortfall{{Item: "Bandage", Demanded: 20, Available: 5, Short: 15}}, shortfalls)
	require.Len(t, stock.decrements, 1)
}

func TestIssueShortfallBlockPolicy(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{"bandage": 5}}
	svc, repo, _ := newIssueService(stock, StockPolicyBlock)

	issue, err := svc.CreateIssue(ctx, issueFixture())
	require.NoError(t, err)
	_, err = svc.SubmitIssue(ctx, issue.ID, storekeeper)
	require.NoError(t, err)

	_, shortfalls, err := svc.ApproveIssue(ctx, issue.ID, approver)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Len(t, shortfalls, 1)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, shortfalls, insufficient.Shortfalls)

	require.Empty(t, stock.decrements)
	require.Equal(t, IssuePendingApproval, repo.issues[issue.ID].Status)
}

func TestIssueApproveIsAtomicAcrossLines(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{
		available: map[string]float64{"bandage": 50, "gauze": 40},
		failItem:  "gauze",
	}
	repo := newMemoryDispatchRepo()
	idem := &memoryIdempotency{}
	svc := NewService(repo, stock, nil, nil, idem, &fakeInvalidator{}, StockPolicyAdvise)

	snapshot := maps.Clone(stock.available)
	repo.onRollback = func() {
		stock.available = maps.Clone(snapshot)
		stock.decrements = nil
	}

	input := issueFixture()
	input.Lines = []LineItem{
		{Name: "Bandage", Unit: "pcs", Quantity: 20, Rate: 10},
		{Name: "Gauze", Unit: "pcs", Quantity: 10, Rate: 5},
	}
	issue, err := svc.CreateIssue(ctx, input)
	require.NoError(t, err)
	_, err = svc.SubmitIssue(ctx, issue.ID, storekeeper)
	require.NoError(t, err)

	_, _, err = svc.ApproveIssue(ctx, issue.ID, approver)
	require.Error(t, err)

	stored, err := repo.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, IssuePendingApproval, stored.Status)
	require.Empty(t, stock.decrements)
	require.Equal(t, 50.0, stock.available["bandage"])
	require.Empty(t, idem.keys, "a failed approval must release its key")

	stock.failItem = ""
	approved, shortfalls, err := svc.ApproveIssue(ctx, issue.ID, approver)
	require.NoError(t, err)
	require.Empty(t, shortfalls)
	require.Equal(t, IssueIssued, approved.Status)
	require.Len(t, stock.decrements, 2)
	require.Equal(t, 30.0, stock.available["bandage"])
	require.Equal(t, 30.0, stock.available["gauze"])
	require.Len(t, idem.keys, 1)

	_, _, err = svc.ApproveIssue(ctx, issue.ID, approver)
	require.Error(t, err)
	require.Len(t, stock.decrements, 2)
}

func TestIssueRoleGates(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{"bandage": 50}}
	svc, repo, _ := newIssueService(stock, StockPolicyAdvise)

	issue, err := svc.CreateIssue(ctx, issueFixture())
	require.NoError(t, err)

	_, err = svc.SubmitIssue(ctx, issue.ID, accountant)
	require.Error(t, err)
	require.Equal(t, IssuePending, repo.issues[issue.ID].Status)

	_, err = svc.SubmitIssue(ctx, issue.ID, storekeeper)
	require.NoError(t, err)

	_, _, err = svc.ApproveIssue(ctx, issue.ID, storekeeper)
	require.Error(t, err)
	require.Equal(t, IssuePendingApproval, repo.issues[issue.ID].Status)
	require.Empty(t, stock.decrements)
}

func TestReturnApproveIncrementsBatch(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{}}
	svc, repo, inv := newIssueService(stock, StockPolicyAdvise)

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC),
		ReturnedBy: "OPD Ward",
		Lines: []ReturnLine{
			{LineItem: LineItem{Name: "Glove", Unit: "pair", Quantity: 4, Rate: 15}, BatchID: 7},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "0001-FI", ret.Number)

	ret, err = svc.ApproveReturn(ctx, ret.ID, storekeeper)
	require.NoError(t, err)
	require.Equal(t, ReturnApproved, ret.Status)
	require.Equal(t, "Hari Prasad", ret.Signatures["approver"].Name)

	require.Equal(t, []incrementCall{{batchID: 7, qty: 4}}, stock.increments)
	require.Equal(t, []string{"Glove"}, inv.items)
	require.Equal(t, ReturnApproved, repo.returns[ret.ID].Status)
}

func TestReturnReject(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{}}
	svc, _, _ := newIssueService(stock, StockPolicyAdvise)

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC),
		Lines: []ReturnLine{
			{LineItem: LineItem{Name: "Glove", Quantity: 4}, BatchID: 7},
		},
	})
	require.NoError(t, err)

	ret, err = svc.RejectReturn(ctx, ret.ID, approver, "damaged beyond reuse")
	require.NoError(t, err)
	require.Equal(t, ReturnRejected, ret.Status)
	require.Empty(t, stock.increments)
}

func TestDisposalApproveHasNoStockEffect(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{}}
	svc, repo, _ := newIssueService(stock, StockPolicyAdvise)

	disposal, err := svc.CreateDisposal(ctx, CreateDisposalInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		Reason:     "expired stock",
		Lines: []LineItem{
			{Name: "Saline", Unit: "btl", Quantity: 12},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "0001-LI", disposal.Number)

	_, err = svc.ApproveDisposal(ctx, disposal.ID, storekeeper)
	require.Error(t, err)
	require.Equal(t, DisposalPending, repo.disposals[disposal.ID].Status)

	disposal, err = svc.ApproveDisposal(ctx, disposal.ID, approver)
	require.NoError(t, err)
	require.Equal(t, DisposalApproved, disposal.Status)
	require.Empty(t, stock.decrements)
	require.Empty(t, stock.increments)
}

func TestDispatchValidation(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{available: map[string]float64{}}
	svc, _, _ := newIssueService(stock, StockPolicyAdvise)

	cases := []struct {
		name  string
		input CreateIssueInput
	}{
		{"bad fiscal year", CreateIssueInput{FiscalYear: "2081", Date: time.Now(), IssuedTo: "X", Lines: []LineItem{{Name: "A", Quantity: 1}}}},
		{"missing date", CreateIssueInput{FiscalYear: fy, IssuedTo: "X", Lines: []LineItem{{Name: "A", Quantity: 1}}}},
		{"missing issued-to", CreateIssueInput{FiscalYear: fy, Date: time.Now(), Lines: []LineItem{{Name: "A", Quantity: 1}}}},
		{"no lines", CreateIssueInput{FiscalYear: fy, Date: time.Now(), IssuedTo: "X"}},
		{"zero quantity", CreateIssueInput{FiscalYear: fy, Date: time.Now(), IssuedTo: "X", Lines: []LineItem{{Name: "A"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateIssue(ctx, tc.input)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := svc.CreateDisposal(ctx, CreateDisposalInput{FiscalYear: fy, Date: time.Now(), Lines: []LineItem{{Name: "A", Quantity: 1}}})
	require.ErrorIs(t, err, ErrValidation)
}
