package procurement

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

type memoryProcRepo struct {
	demands    map[int64]Demand
	orders     map[int64]PurchaseOrder
	receipts   map[int64]GoodsReceiptRequest
	nextID     int64
	onRollback func()
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		demands:  make(map[int64]Demand),
		orders:   make(map[int64]PurchaseOrder),
		receipts: make(map[int64]GoodsReceiptRequest),
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	demands := maps.Clone(r.demands)
	orders := maps.Clone(r.orders)
	receipts := maps.Clone(r.receipts)
	nextID := r.nextID
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.demands = demands
		r.orders = orders
		r.receipts = receipts
		r.nextID = nextID
		if r.onRollback != nil {
			r.onRollback()
		}
		return err
	}
	return nil
}

func (r *memoryProcRepo) GetDemand(ctx context.Context, id int64) (Demand, error) {
	d, ok := r.demands[id]
	if !ok {
		return Demand{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryProcRepo) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	o, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryProcRepo) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptRequest, error) {
	g, ok := r.receipts[id]
	if !ok {
		return GoodsReceiptRequest{}, ErrNotFound
	}
	return g, nil
}

func (r *memoryProcRepo) ListNumbers(ctx context.Context, kind, fy string) ([]string, error) {
	var numbers []string
	switch kind {
	case KindDemand:
		for _, d := range r.demands {
			if d.FiscalYear == fy {
				numbers = append(numbers, d.Number)
			}
		}
	case KindPurchaseOrder:
		for _, o := range r.orders {
			if o.FiscalYear == fy {
				numbers = append(numbers, o.Number)
			}
		}
	case KindGoodsReceipt:
		for _, g := range r.receipts {
			if g.FiscalYear == fy {
				numbers = append(numbers, g.Number)
			}
		}
	}
	return numbers, nil
}

func (r *memoryProcRepo) ListOrderNumbers(ctx context.Context, fy string) ([]string, error) {
	var numbers []string
	for _, o := range r.orders {
		if o.FiscalYear == fy && o.OrderNumber != "" {
			numbers = append(numbers, o.OrderNumber)
		}
	}
	return numbers, nil
}

func (t *memoryProcTx) ListNumbers(ctx context.Context, kind, fy string) ([]string, error) {
	return t.repo.ListNumbers(ctx, kind, fy)
}

func (t *memoryProcTx) ListOrderNumbers(ctx context.Context, fy string) ([]string, error) {
	return t.repo.ListOrderNumbers(ctx, fy)
}

func (t *memoryProcTx) InsertDemand(ctx context.Context, d Demand) (int64, error) {
	t.repo.nextID++
	d.ID = t.repo.nextID
	t.repo.demands[d.ID] = d
	return d.ID, nil
}

func (t *memoryProcTx) UpdateDemand(ctx context.Context, d Demand) error {
	if _, ok := t.repo.demands[d.ID]; !ok {
		return ErrNotFound
	}
	t.repo.demands[d.ID] = d
	return nil
}

func (t *memoryProcTx) InsertPurchaseOrder(ctx context.Context, o PurchaseOrder) (int64, error) {
	t.repo.nextID++
	o.ID = t.repo.nextID
	t.repo.orders[o.ID] = o
	return o.ID, nil
}

func (t *memoryProcTx) UpdatePurchaseOrder(ctx context.Context, o PurchaseOrder) error {
	if _, ok := t.repo.orders[o.ID]; !ok {
		return ErrNotFound
	}
	t.repo.orders[o.ID] = o
	return nil
}

func (t *memoryProcTx) InsertGoodsReceipt(ctx context.Context, g GoodsReceiptRequest) (int64, error) {
	t.repo.nextID++
	g.ID = t.repo.nextID
	t.repo.receipts[g.ID] = g
	return g.ID, nil
}

func (t *memoryProcTx) UpdateGoodsReceipt(ctx context.Context, g GoodsReceiptRequest) error {
	if _, ok := t.repo.receipts[g.ID]; !ok {
		return ErrNotFound
	}
	t.repo.receipts[g.ID] = g
	return nil
}

type fakeInventory struct {
	created  []inventory.CreateInput
	nextID   int64
	failItem string
}

func (f *fakeInventory) Create(ctx context.Context, input inventory.CreateInput) (inventory.Record, error) {
	if f.failItem != "" && input.ItemName == f.failItem {
		return inventory.Record{}, errors.New("batch store unavailable")
	}
	f.created = append(f.created, input)
	f.nextID++
	return inventory.Record{ID: f.nextID, ItemName: input.ItemName, Quantity: input.Quantity, Rate: input.Rate}, nil
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

var (
	storekeeper = shared.Actor{FullName: "Ram Prasad", Designation: "Store Keeper", Role: shared.RoleStorekeeper}
	accountant  = shared.Actor{FullName: "Sita Kumari", Designation: "Accountant", Role: shared.RoleAccount}
	approver    = shared.Actor{FullName: "Hari Bahadur", Designation: "Office Chief", Role: shared.RoleAdmin}
)

const fy = "2081/082"

func demandInput() CreateDemandInput {
	return CreateDemandInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		Purpose:    "ward supplies",
		Lines:      []LineItem{{Name: "Paracetamol", Unit: "box", Quantity: 10, Rate: 150}},
	}
}

func TestDemandLifecycle(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	demand, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)
	require.Equal(t, DemandPending, demand.Status)
	require.Equal(t, "0001-MA", demand.Number)

	demand, err = svc.VerifyDemand(ctx, demand.ID, storekeeper, StockRemarkMarketRequired)
	require.NoError(t, err)
	require.Equal(t, DemandVerified, demand.Status)
	require.Equal(t, StockRemarkMarketRequired, demand.StockRemark)
	require.Equal(t, "Ram Prasad", demand.Signatures["storekeeper"].Name)

	demand, err = svc.ApproveDemand(ctx, demand.ID, approver)
	require.NoError(t, err)
	require.Equal(t, DemandApproved, demand.Status)
	require.Equal(t, "Hari Bahadur", demand.Signatures["approver"].Name)
}

func TestDemandRoleGateLeavesDocumentUnchanged(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	demand, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)

	_, err = svc.VerifyDemand(ctx, demand.ID, accountant, StockRemarkInStock)
	require.ErrorIs(t, err, workflow.ErrRoleNotAllowed)

	stored, err := repo.GetDemand(ctx, demand.ID)
	require.NoError(t, err)
	require.Equal(t, DemandPending, stored.Status)
	require.Empty(t, stored.Signatures)
	require.Empty(t, stored.StockRemark)
}

func TestDemandValidation(t *testing.T) {
	svc := NewService(newMemoryProcRepo(), &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	input := demandInput()
	input.Purpose = "  "
	_, err := svc.CreateDemand(ctx, input)
	require.ErrorIs(t, err, ErrValidation)

	input = demandInput()
	input.Date = time.Time{}
	_, err = svc.CreateDemand(ctx, input)
	require.ErrorIs(t, err, ErrValidation)

	input = demandInput()
	input.Lines = nil
	_, err = svc.CreateDemand(ctx, input)
	require.ErrorIs(t, err, ErrValidation)

	input = demandInput()
	input.Lines = []LineItem{{Name: "", Quantity: 5}}
	_, err = svc.CreateDemand(ctx, input)
	require.ErrorIs(t, err, ErrValidation)

	input = demandInput()
	input.FiscalYear = "2081"
	_, err = svc.CreateDemand(ctx, input)
	require.ErrorIs(t, err, ErrValidation)
}

func TestDemandNumbersAreSequentialPerFiscalYear(t *testing.T) {
	svc := NewService(newMemoryProcRepo(), &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)
	second, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)
	require.Equal(t, "0001-MA", first.Number)
	require.Equal(t, "0002-MA", second.Number)

	other := demandInput()
	other.FiscalYear = "2082/083"
	third, err := svc.CreateDemand(ctx, other)
	require.NoError(t, err)
	require.Equal(t, "0001-MA", third.Number)
}

func TestPurchaseOrderLifecycleAndNumbering(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	demand, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)

	// Pre-existing verified orders occupy 001-KH and 002-KH.
	repo.nextID += 2
	repo.orders[repo.nextID-1] = PurchaseOrder{ID: repo.nextID - 1, FiscalYear: fy, Number: "0001-KH", OrderNumber: "001-KH", Status: POAccountVerified}
	repo.orders[repo.nextID] = PurchaseOrder{ID: repo.nextID, FiscalYear: fy, Number: "0002-KH", OrderNumber: "002-KH", Status: POAccountVerified}

	order, err := svc.CreatePurchaseOrder(ctx, CreateOrderInput{
		DemandID:     demand.ID,
		FiscalYear:   fy,
		Date:         time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC),
		SupplierName: "Everest Suppliers",
	})
	require.NoError(t, err)
	require.Equal(t, POPending, order.Status)
	require.Equal(t, demand.Number, order.DemandNumber)
	require.Equal(t, demand.Lines, order.Lines)
	require.Empty(t, order.OrderNumber)

	order, err = svc.SubmitOrderToAccount(ctx, order.ID, storekeeper)
	require.NoError(t, err)
	require.Equal(t, POPendingAccount, order.Status)

	order, err = svc.AccountVerifyOrder(ctx, order.ID, accountant)
	require.NoError(t, err)
	require.Equal(t, POAccountVerified, order.Status)
	require.Equal(t, "003-KH", order.OrderNumber)
	require.Equal(t, "Sita Kumari", order.Signatures["account"].Name)

	// Re-verification must not reassign the order number.
	stored := repo.orders[order.ID]
	stored.Status = POPendingAccount
	repo.orders[order.ID] = stored
	order, err = svc.AccountVerifyOrder(ctx, order.ID, accountant)
	require.NoError(t, err)
	require.Equal(t, "003-KH", order.OrderNumber)

	order, err = svc.CompleteOrder(ctx, order.ID, approver)
	require.NoError(t, err)
	require.Equal(t, POCompleted, order.Status)
}

func TestPurchaseOrderRoleGates(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, &fakeInventory{}, nil, nil, nil, nil)
	ctx := context.Background()

	demand, err := svc.CreateDemand(ctx, demandInput())
	require.NoError(t, err)
	order, err := svc.CreatePurchaseOrder(ctx, CreateOrderInput{DemandID: demand.ID, FiscalYear: fy, Date: demand.Date})
	require.NoError(t, err)

	_, err = svc.AccountVerifyOrder(ctx, order.ID, accountant)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = svc.SubmitOrderToAccount(ctx, order.ID, accountant)
	require.ErrorIs(t, err, workflow.ErrRoleNotAllowed)

	_, err = svc.SubmitOrderToAccount(ctx, order.ID, storekeeper)
	require.NoError(t, err)

	_, err = svc.AccountVerifyOrder(ctx, order.ID, approver)
	require.ErrorIs(t, err, workflow.ErrRoleNotAllowed)
}

func receiptInput(mode string) CreateReceiptInput {
	return CreateReceiptInput{
		FiscalYear: fy,
		Date:       time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC),
		Mode:       mode,
		StoreID:    1,
		Source:     "Everest Suppliers",
		Lines: []ReceiptLine{
			{LineItem: LineItem{Name: "Paracetamol", Unit: "box", Quantity: 10, Rate: 150}, Classification: inventory.ClassificationExpendable},
			{LineItem: LineItem{Name: "Wheelchair", Unit: "pcs", Quantity: 2, Rate: 9000}, Classification: inventory.ClassificationNonExpendable},
		},
	}
}

func TestGoodsReceiptApprovalCreatesBatches(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &fakeInventory{}
	svc := NewService(repo, inv, nil, nil, nil, nil)
	ctx := context.Background()

	receipt, err := svc.CreateGoodsReceipt(ctx, receiptInput(ReceiptModePurchase))
	require.NoError(t, err)
	require.Equal(t, ReceiptPending, receipt.Status)
	require.Equal(t, "0001-DA", receipt.Number)

	receipt, err = svc.ApproveGoodsReceipt(ctx, receipt.ID, approver)
	require.NoError(t, err)
	require.Equal(t, ReceiptApproved, receipt.Status)
	require.Len(t, inv.created, 2)
	require.Equal(t, "Paracetamol", inv.created[0].ItemName)
	require.Equal(t, int64(1), inv.created[0].StoreID)
	require.Equal(t, "Everest Suppliers", inv.created[0].Source)
	require.Equal(t, inventory.ClassificationNonExpendable, inv.created[1].Classification)
}

func TestGoodsReceiptApproveIsAtomicAcrossLines(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &fakeInventory{failItem: "Wheelchair"}
	idem := &memoryIdempotency{}
	svc := NewService(repo, inv, nil, nil, idem, nil)
	ctx := context.Background()

	repo.onRollback = func() {
		inv.created = nil
	}

	receipt, err := svc.CreateGoodsReceipt(ctx, receiptInput(ReceiptModePurchase))
	require.NoError(t, err)

	_, err = svc.ApproveGoodsReceipt(ctx, receipt.ID, approver)
	require.Error(t, err)

	stored, err := repo.GetGoodsReceipt(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, ReceiptPending, stored.Status)
	require.Empty(t, inv.created, "no batch survives a failed approval")
	require.Empty(t, idem.keys, "a failed approval must release its key")

	inv.failItem = ""
	approved, err := svc.ApproveGoodsReceipt(ctx, receipt.ID, approver)
	require.NoError(t, err)
	require.Equal(t, ReceiptApproved, approved.Status)
	require.Len(t, inv.created, 2)
	require.Len(t, idem.keys, 1)

	_, err = svc.ApproveGoodsReceipt(ctx, receipt.ID, approver)
	require.Error(t, err)
	require.Len(t, inv.created, 2, "a replay must not double the batches")
}

func TestGoodsReceiptOpeningModeDefaultsSource(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &fakeInventory{}
	svc := NewService(repo, inv, nil, nil, nil, nil)
	ctx := context.Background()

	input := receiptInput(ReceiptModeOpening)
	input.Source = ""
	receipt, err := svc.CreateGoodsReceipt(ctx, input)
	require.NoError(t, err)

	_, err = svc.ApproveGoodsReceipt(ctx, receipt.ID, storekeeper)
	require.NoError(t, err)
	require.Equal(t, "Opening", inv.created[0].Source)
}

func TestGoodsReceiptReject(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &fakeInventory{}
	svc := NewService(repo, inv, nil, nil, nil, nil)
	ctx := context.Background()

	receipt, err := svc.CreateGoodsReceipt(ctx, receiptInput(ReceiptModePurchase))
	require.NoError(t, err)

	receipt, err = svc.RejectGoodsReceipt(ctx, receipt.ID, approver, "quantities do not match")
	require.NoError(t, err)
	require.Equal(t, ReceiptRejected, receipt.Status)
	require.Empty(t, inv.created)

	_, err = svc.ApproveGoodsReceipt(ctx, receipt.ID, approver)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}
