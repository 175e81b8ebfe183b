package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facilityops/internal/events"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	items        map[int64]Item
	transactions []Transaction
	nextItemID   int64
	nextTxID     int64
	failInsert   bool
	conflicts    int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item)}
}

// WithTx holds the repo lock for the whole callback, which mirrors the row
// lock taken by GetItemForUpdate. Failed callbacks roll back.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return fmt.Errorf("could not serialize access: %w", shared.ErrConcurrencyConflict)
	}
	items := make(map[int64]Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	txCount := len(r.transactions)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items = items
		r.transactions = r.transactions[:txCount]
		return err
	}
	return nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, itemID int64, limit int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, entry := range r.transactions {
		if entry.ItemID == itemID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListActiveItemIDs(ctx context.Context, facilityID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, item := range r.items {
		if item.IsActive && (facilityID == 0 || item.FacilityID == facilityID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	item, ok := tx.repo.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextItemID++
	item.ID = tx.repo.nextItemID
	tx.repo.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, item Item) error {
	current, ok := tx.repo.items[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	item.CurrentStock = current.CurrentStock
	tx.repo.items[item.ID] = item
	return nil
}

func (tx *memoryTx) SetCurrentStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error {
	item := tx.repo.items[id]
	item.CurrentStock = stock
	item.UpdatedAt = at
	tx.repo.items[id] = item
	return nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, entry Transaction) (int64, error) {
	if tx.repo.failInsert {
		return 0, errors.New("insert failed")
	}
	tx.repo.nextTxID++
	entry.ID = tx.repo.nextTxID
	tx.repo.transactions = append(tx.repo.transactions, entry)
	return entry.ID, nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evts ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

func (p *recordingPublisher) names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Name)
	}
	return out
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var fixedNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, policy NegativeStockPolicy) (*Service, *memoryRepo, *recordingPublisher) {
	t.Helper()
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, nil, &memoryIdempotency{keys: map[string]bool{}}, pub, ServiceConfig{
		NegativeStockPolicy: policy,
		Clock:               func() time.Time { return fixedNow },
	})
	return svc, repo, pub
}

func onboard(t *testing.T, svc *Service, stock string) Item {
	t.Helper()
	item, _, err := svc.OnboardItem(context.Background(), OnboardInput{
		FacilityID:   1,
		Name:         "Protein Powder",
		MinimumStock: dec("5"),
		MaximumStock: dec("50"),
		CostPrice:    dec("12.50"),
		InitialStock: dec(stock),
		ActorID:      7,
	})
	require.NoError(t, err)
	return item
}

func TestRecordMovementPurchase(t *testing.T) {
	svc, _, pub := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "10")

	entry, updated, err := svc.RecordMovement(context.Background(), MovementInput{
		ItemID:    item.ID,
		Type:      TransactionPurchase,
		Quantity:  dec("5"),
		UnitPrice: dec("2.00"),
		Metadata:  Metadata{ActorID: 7},
	})
	require.NoError(t, err)
	require.True(t, entry.StockBefore.Equal(dec("10")))
	require.True(t, entry.StockAfter.Equal(dec("15")))
	require.True(t, entry.TotalAmount.Equal(dec("10.00")))
	require.True(t, updated.CurrentStock.Equal(dec("15")))
	require.Contains(t, entry.Reference, "STX-")
	require.Equal(t, []events.Name{events.ItemStockChanged, events.ItemStockChanged}, pub.names())
}

func TestRecordMovementClampsAtZero(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")

	entry, updated, err := svc.RecordMovement(context.Background(), MovementInput{
		ItemID:   item.ID,
		Type:     TransactionSale,
		Quantity: dec("5"),
	})
	require.NoError(t, err)
	require.True(t, entry.Clamped)
	require.True(t, entry.StockBefore.Equal(dec("3")))
	require.True(t, entry.StockAfter.IsZero())
	require.True(t, updated.CurrentStock.IsZero())
	require.True(t, repo.items[item.ID].CurrentStock.IsZero())
}

func TestRecordMovementRejectPolicy(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyReject)
	item := onboard(t, svc, "3")

	_, _, err := svc.RecordMovement(context.Background(), MovementInput{
		ItemID:   item.ID,
		Type:     TransactionDamage,
		Quantity: dec("5"),
	})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("3")))
	require.Len(t, repo.transactions, 1)
}

func TestRecordMovementValidation(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1"), UnitPrice: dec("-0.01")})
	require.ErrorIs(t, err, ErrInvalidUnitPrice)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: "gift", Quantity: dec("1")})
	require.ErrorIs(t, err, ErrUnknownTransactionType)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: 999, Type: TransactionPurchase, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Len(t, repo.transactions, 1)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("3")))
}

func TestRecordMovementRejectsUnstorableScale(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1.50005"), UnitPrice: dec("0.33")})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionSale, Quantity: dec("0.00001")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1.5"), UnitPrice: dec("0.333")})
	require.ErrorIs(t, err, ErrInvalidUnitPrice)

	require.Len(t, repo.transactions, 1)

	entry, updated, err := svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1.5001"), UnitPrice: dec("0.3300")})
	require.NoError(t, err)
	require.True(t, entry.TotalAmount.Equal(dec("0.495033")))
	require.True(t, updated.CurrentStock.Equal(dec("4.5001")))

	_, _, err = ApplyMovement(dec("1"), TransactionSale, dec("0.12345"), PolicyClamp)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestOnboardItemRejectsUnstorableScale(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	ctx := context.Background()

	_, _, err := svc.OnboardItem(ctx, OnboardInput{FacilityID: 1, Name: "Chalk", InitialStock: dec("2.00001")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = svc.OnboardItem(ctx, OnboardInput{FacilityID: 1, Name: "Chalk", InitialStock: dec("2"), InitialUnitPrice: dec("1.005")})
	require.ErrorIs(t, err, ErrInvalidUnitPrice)

	_, _, err = svc.OnboardItem(ctx, OnboardInput{FacilityID: 1, Name: "Chalk", CostPrice: dec("4.999")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.OnboardItem(ctx, OnboardInput{FacilityID: 1, Name: "Chalk", MinimumStock: dec("0.00001")})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Empty(t, repo.items)
	require.Empty(t, repo.transactions)
}

func TestRecordMovementRetriesLostRowLock(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")
	ctx := context.Background()

	repo.conflicts = maxMovementAttempts - 1
	_, updated, err := svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("2")})
	require.NoError(t, err)
	require.True(t, updated.CurrentStock.Equal(dec("5")))
	require.Len(t, repo.transactions, 2)

	repo.conflicts = maxMovementAttempts
	_, _, err = svc.RecordMovement(ctx, MovementInput{
		ItemID:   item.ID,
		Type:     TransactionPurchase,
		Quantity: dec("2"),
		Metadata: Metadata{IdempotencyKey: "retry-1"},
	})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Zero(t, repo.conflicts)
	require.Len(t, repo.transactions, 2)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("5")))

	_, _, err = svc.RecordMovement(ctx, MovementInput{
		ItemID:   item.ID,
		Type:     TransactionPurchase,
		Quantity: dec("2"),
		Metadata: Metadata{IdempotencyKey: "retry-1"},
	})
	require.NoError(t, err, "exhausted retries release the idempotency key")
}

func TestRecordMovementInactiveItem(t *testing.T) {
	svc, _, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")
	other := onboard(t, svc, "1")
	_, err := svc.DeactivateItem(context.Background(), item.ID, 7)
	require.NoError(t, err)

	ids, err := svc.ListActiveItemIDs(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{other.ID}, ids)

	_, _, err = svc.RecordMovement(context.Background(), MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrItemInactive)
}

func TestRecordMovementRollsBackOnFailure(t *testing.T) {
	svc, repo, pub := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "3")
	before := len(pub.names())
	repo.failInsert = true

	_, _, err := svc.RecordMovement(context.Background(), MovementInput{
		ItemID:   item.ID,
		Type:     TransactionPurchase,
		Quantity: dec("4"),
		Metadata: Metadata{IdempotencyKey: "abc"},
	})
	require.Error(t, err)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("3")))
	require.Len(t, pub.names(), before)

	repo.failInsert = false
	_, _, err = svc.RecordMovement(context.Background(), MovementInput{
		ItemID:   item.ID,
		Type:     TransactionPurchase,
		Quantity: dec("4"),
		Metadata: Metadata{IdempotencyKey: "abc"},
	})
	require.NoError(t, err, "failed attempt must release its idempotency key")
}

func TestRecordMovementIdempotencyKey(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "0")
	input := MovementInput{
		ItemID:   item.ID,
		Type:     TransactionPurchase,
		Quantity: dec("2"),
		Metadata: Metadata{IdempotencyKey: "po-42"},
	}
	_, _, err := svc.RecordMovement(context.Background(), input)
	require.NoError(t, err)
	_, _, err = svc.RecordMovement(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("2")))
}

func TestLedgerChainsAndTotalsAreExact(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "0")
	ctx := context.Background()

	moves := []struct {
		kind  TransactionType
		qty   string
		price string
	}{
		{TransactionPurchase, "0.1", "0.1"},
		{TransactionPurchase, "0.2", "0.3"},
		{TransactionSale, "0.15", "1.10"},
		{TransactionReturn, "1.05", "0"},
		{TransactionTransfer, "0.2", "0"},
		{TransactionExpired, "5", "0"},
		{TransactionAdjustment, "2.5", "3.35"},
	}
	for _, m := range moves {
		_, _, err := svc.RecordMovement(ctx, MovementInput{ItemID: item.ID, Type: m.kind, Quantity: dec(m.qty), UnitPrice: dec(m.price)})
		require.NoError(t, err)
	}

	ledger := repo.transactions
	require.Len(t, ledger, len(moves))
	for i, entry := range ledger {
		require.True(t, entry.TotalAmount.Equal(entry.Quantity.Mul(entry.UnitPrice)))
		if i > 0 {
			require.True(t, entry.StockBefore.Equal(ledger[i-1].StockAfter), "entry %d", i)
		}
		require.False(t, entry.StockAfter.IsNegative())
	}
	require.True(t, ledger[0].TotalAmount.Equal(dec("0.01")))
	require.True(t, ledger[1].StockAfter.Equal(dec("0.3")))
	require.True(t, ledger[5].Clamped)
	require.True(t, repo.items[item.ID].CurrentStock.Equal(ledger[len(ledger)-1].StockAfter))
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("2.5")))
}

func TestConcurrentMovementsSerialise(t *testing.T) {
	svc, repo, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordMovement(context.Background(), MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1.5")})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("30")))
	require.Len(t, repo.transactions, 20)
}

func TestOnboardItemBooksOpeningBalance(t *testing.T) {
	svc, repo, pub := newTestService(t, PolicyClamp)
	item, opening, err := svc.OnboardItem(context.Background(), OnboardInput{
		FacilityID:       3,
		Name:             "  Towels ",
		InitialStock:     dec("12"),
		InitialUnitPrice: dec("1.25"),
		HasExpiry:        true,
		ActorID:          9,
	})
	require.NoError(t, err)
	require.NotNil(t, opening)
	require.Equal(t, "Towels", item.Name)
	require.Equal(t, "piece", item.Unit)
	require.Equal(t, DefaultExpiryAlertDays, item.ExpiryAlertDays)
	require.Equal(t, TransactionAdjustment, opening.Type)
	require.True(t, opening.TotalAmount.Equal(dec("15")))
	require.True(t, repo.items[item.ID].CurrentStock.Equal(dec("12")))
	require.Equal(t, []events.Name{events.ItemStockChanged}, pub.names())

	_, _, err = svc.OnboardItem(context.Background(), OnboardInput{FacilityID: 3, Name: ""})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateItemPublishesOnlyRelevantChanges(t *testing.T) {
	svc, _, pub := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "10")
	ctx := context.Background()
	base := len(pub.names())

	price := dec("99")
	_, err := svc.UpdateItem(ctx, item.ID, ItemPatch{SellingPrice: &price}, 7)
	require.NoError(t, err)
	require.Len(t, pub.names(), base)

	minimum := dec("20")
	updated, err := svc.UpdateItem(ctx, item.ID, ItemPatch{MinimumStock: &minimum}, 7)
	require.NoError(t, err)
	require.True(t, updated.IsLowStock())
	require.True(t, updated.CurrentStock.Equal(dec("10")))
	names := pub.names()
	require.Len(t, names, base+1)
	require.Equal(t, events.ItemSettingsChanged, names[len(names)-1])

	negative := dec("-1")
	_, err = svc.UpdateItem(ctx, item.ID, ItemPatch{CostPrice: &negative}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListTransactionsNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t, PolicyClamp)
	item := onboard(t, svc, "1")
	for i := 0; i < 3; i++ {
		_, _, err := svc.RecordMovement(context.Background(), MovementInput{ItemID: item.ID, Type: TransactionPurchase, Quantity: dec("1")})
		require.NoError(t, err)
	}
	entries, err := svc.ListTransactions(context.Background(), item.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Greater(t, entries[0].ID, entries[1].ID)

	_, err = svc.ListTransactions(context.Background(), 404, 10)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestItemDerivedFigures(t *testing.T) {
	item := Item{CurrentStock: dec("30"), MinimumStock: dec("10"), MaximumStock: dec("50"), CostPrice: dec("2.5")}
	require.False(t, item.IsLowStock())
	require.True(t, item.StockPercentage().Equal(dec("50")))
	require.True(t, item.TotalValue().Equal(dec("75")))

	item.CurrentStock = dec("10")
	require.True(t, item.IsLowStock())
	require.True(t, item.StockPercentage().IsZero())
}

func TestParseNegativeStockPolicy(t *testing.T) {
	policy, err := ParseNegativeStockPolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyClamp, policy)
	policy, err = ParseNegativeStockPolicy("REJECT")
	require.NoError(t, err)
	require.Equal(t, PolicyReject, policy)
	_, err = ParseNegativeStockPolicy("allow")
	require.Error(t, err)
}
