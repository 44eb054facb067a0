package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-ordering/internal/catalog"
	"ms-ordering/internal/config"
	"ms-ordering/internal/database/dbtest"
	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
	"ms-ordering/internal/order"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/reservation"
)

const store = "store-1"

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

var topics = config.TopicConfig{
	OrderCreated:       "orders.created",
	OrderStatusChanged: "orders.status_changed",
	OrderCancelled:     "orders.cancelled",
}

type fixture struct {
	svc       *order.OrderService
	ledger    *inventory.Ledger
	publisher *MockPublisher
	board     *queue.Board
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	bunDB := dbtest.New(t)
	log := logger.NewNop()

	ledger := inventory.NewLedger(bunDB, inventory.NewKeyLocker(2*time.Second), log)
	reservations := reservation.NewService(bunDB, ledger, log)
	allocator := queue.NewAllocator(queue.DBCounter{}, time.UTC, log)
	cat := catalog.NewStaticCatalog(
		catalog.Product{SKUID: "latte", Name: "Latte", Unit: "cup", UnitPrice: dec("4.50")},
		catalog.Product{SKUID: "beans", Name: "House beans", Unit: "kg", UnitPrice: dec("18.00")},
		catalog.Product{SKUID: "X", Name: "Item X", Unit: "pcs", UnitPrice: dec("1.00")},
	)
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	board := queue.NewBoard()

	svc := order.NewOrderService(bunDB, reservations, allocator, cat, publisher, topics, board, log)
	return &fixture{svc: svc, ledger: ledger, publisher: publisher, board: board}
}

func (f *fixture) restock(t *testing.T, skuID, qty string) {
	t.Helper()
	_, err := f.ledger.Adjust(context.Background(), store, skuID, models.StockAdjustment{Delta: dec(qty)})
	require.NoError(t, err)
}

func (f *fixture) ledgerView(t *testing.T, skuID string) *models.InventoryView {
	t.Helper()
	view, err := f.ledger.Get(context.Background(), store, skuID)
	require.NoError(t, err)
	return view
}

func request(items ...models.OrderItemRequest) models.OrderRequest {
	return models.OrderRequest{StoreID: store, UserID: "user-1", Items: items}
}

func item(sku, qty string) models.OrderItemRequest {
	return models.OrderItemRequest{SKUID: sku, Quantity: dec(qty)}
}

func TestCreateOrder_ReservesAndSnapshotsPrices(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "latte", "10")
	f.restock(t, "beans", "5")

	o, err := f.svc.CreateOrder(ctx, request(item("latte", "2"), item("beans", "0.25")))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPendingPayment, o.Status)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-Z]{8}$`, o.OrderNumber)
	assert.Equal(t, int64(1), o.Version)
	assert.Nil(t, o.QueueNumber)
	assert.True(t, o.TotalPrice.Equal(dec("13.50")), "total %s", o.TotalPrice)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "Latte", o.Items[0].SKUName)
	assert.True(t, o.Items[0].LineTotal.Equal(dec("9")))
	assert.True(t, o.Items[1].LineTotal.Equal(dec("4.5")))
	for _, it := range o.Items {
		assert.NotEmpty(t, it.ReservationID)
	}

	assert.True(t, f.ledgerView(t, "latte").Reserved.Equal(dec("2")))
	assert.True(t, f.ledgerView(t, "beans").Reserved.Equal(dec("0.25")))

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, stored.OrderNumber)
	assert.Len(t, stored.Items, 2)

	page, err := f.svc.QueryReservations(ctx, models.ReservationFilter{OrderID: o.ID}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, "orders.created", o.ID, mock.Anything)
}

func TestCreateOrder_ShortageLeavesNoTrace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "latte", "10")
	f.restock(t, "beans", "1")

	_, err := f.svc.CreateOrder(ctx, request(item("latte", "2"), item("beans", "3")))
	require.ErrorIs(t, err, inventory.ErrInsufficientInventory)

	var shortage *inventory.InsufficientInventoryError
	require.True(t, errors.As(err, &shortage))
	require.Len(t, shortage.Shortages, 1)
	assert.Equal(t, "House beans", shortage.Shortages[0].SKUName)
	assert.Equal(t, "kg", shortage.Shortages[0].Unit)

	assert.True(t, f.ledgerView(t, "latte").Reserved.IsZero())
	page, err := f.svc.QueryReservations(ctx, models.ReservationFilter{StoreID: store}, models.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	orders, err := f.svc.ListUserOrders(ctx, "user-1", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, "orders.created", mock.Anything, mock.Anything)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.OrderRequest
	}{
		{"no store", models.OrderRequest{UserID: "u", Items: []models.OrderItemRequest{item("latte", "1")}}},
		{"no user", models.OrderRequest{StoreID: store, Items: []models.OrderItemRequest{item("latte", "1")}}},
		{"no items", models.OrderRequest{StoreID: store, UserID: "u"}},
		{"zero quantity", request(item("latte", "0"))},
		{"below column precision", request(item("latte", "0.0001"))},
		{"would round on insert", request(item("latte", "0.0006"))},
		{"exceeds column range", request(item("latte", "100000000000"))},
		{"unknown sku", request(item("espresso-tonic", "1"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.req)
			assert.ErrorIs(t, err, order.ErrInvalidOrder)
		})
	}
}

func TestOrderLifecycle_HappyPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "latte", "10")

	boardCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := f.board.Subscribe(boardCtx, store)

	o, err := f.svc.CreateOrder(ctx, request(item("latte", "3")))
	require.NoError(t, err)

	o, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusPendingProduction)
	require.NoError(t, err)
	assert.NotNil(t, o.PaidAt)
	assert.True(t, f.ledgerView(t, "latte").Reserved.Equal(dec("3")), "payment does not touch stock")

	o, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusProducing)
	require.NoError(t, err)
	require.NotNil(t, o.QueueNumber)
	assert.Equal(t, "D001", *o.QueueNumber)
	assert.NotNil(t, o.ProductionStartedAt)

	ev := <-events
	assert.Equal(t, "D001", ev.Number)
	assert.Equal(t, models.TicketStatusActive, ev.Status)

	o, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusCompleted)
	require.NoError(t, err)
	assert.NotNil(t, o.CompletedAt)
	view := f.ledgerView(t, "latte")
	assert.True(t, view.OnHand.Equal(dec("7")))
	assert.True(t, view.Reserved.IsZero())

	ev = <-events
	assert.Equal(t, models.TicketStatusCalled, ev.Status)

	o, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.NotNil(t, o.DeliveredAt)
	assert.Equal(t, int64(5), o.Version)

	ticket, err := f.svc.Ticket(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusCompleted, ticket.Status)

	res, err := f.svc.QueryReservations(ctx, models.ReservationFilter{OrderID: o.ID}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusFulfilled, res.Items[0].Status)

	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)

	f.publisher.AssertNumberOfCalls(t, "Publish", 5)
}

func TestCancelOrder_ReturnsStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "5")

	before, err := f.ledger.GetAvailable(ctx, store, "X")
	require.NoError(t, err)

	o1, err := f.svc.CreateOrder(ctx, request(item("X", "2")))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(ctx, o1.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.NotNil(t, cancelled.CancelledAt)

	after, err := f.ledger.GetAvailable(ctx, store, "X")
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	_, err = f.svc.CancelOrder(ctx, o1.ID, "")
	var transitionErr *order.InvalidStateTransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, models.OrderStatusCancelled, transitionErr.From)

	again, err := f.ledger.GetAvailable(ctx, store, "X")
	require.NoError(t, err)
	assert.True(t, after.Equal(again))

	f.publisher.AssertCalled(t, "Publish", mock.Anything, "orders.cancelled", o1.ID, mock.Anything)
}

func TestAdvanceOrder_RejectsIllegalTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "5")

	o, err := f.svc.CreateOrder(ctx, request(item("X", "1")))
	require.NoError(t, err)

	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusProducing)
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)

	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusPendingPayment)
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)

	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusPendingProduction)
	require.NoError(t, err)
	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusProducing)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, o.ID, "too late")
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProducing, stored.Status)
	assert.True(t, f.ledgerView(t, "X").Reserved.Equal(dec("1")))

	_, err = f.svc.AdvanceOrder(ctx, "missing", models.OrderStatusProducing)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestAdvanceOrder_QueueExhaustionRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "5")

	day := f.svc.Allocator.BusinessDate()
	_, err := f.svc.DB.NewInsert().Model(&models.QueueCounter{StoreID: store, BusinessDate: day, LastSequence: queue.MaxSequence}).Exec(ctx)
	require.NoError(t, err)

	o, err := f.svc.CreateOrder(ctx, request(item("X", "1")))
	require.NoError(t, err)
	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusPendingProduction)
	require.NoError(t, err)

	_, err = f.svc.AdvanceOrder(ctx, o.ID, models.OrderStatusProducing)
	require.ErrorIs(t, err, queue.ErrQueueCapacityExceeded)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingProduction, stored.Status)
	assert.Nil(t, stored.QueueNumber)
	assert.Equal(t, int64(2), stored.Version)
}

func TestExpireStale_CancelsUnpaidOrders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "5")

	unpaid, err := f.svc.CreateOrder(ctx, request(item("X", "2")))
	require.NoError(t, err)
	paid, err := f.svc.CreateOrder(ctx, request(item("X", "1")))
	require.NoError(t, err)
	_, err = f.svc.AdvanceOrder(ctx, paid.ID, models.OrderStatusPendingProduction)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.svc.GetOrder(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, order.ExpiredReason, stored.CancelReason)

	res, err := f.svc.QueryReservations(ctx, models.ReservationFilter{OrderID: unpaid.ID}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusExpired, res.Items[0].Status)

	assert.True(t, f.ledgerView(t, "X").Reserved.Equal(dec("1")), "the paid order keeps its stock")

	n, err = f.svc.ExpireStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireStale_WithSweeper(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "5")

	_, err := f.svc.CreateOrder(ctx, request(item("X", "2")))
	require.NoError(t, err)

	// A negative TTL puts the cutoff in the future.
	sweeper := reservation.NewSweeper(f.svc, -time.Minute, time.Minute, logger.NewNop())
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.ledgerView(t, "X").Reserved.IsZero())
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.restock(t, "X", "4")

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, rejected := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(item("X", "1"))
			req.UserID = fmt.Sprintf("user-%d", i)
			_, err := f.svc.CreateOrder(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, inventory.ErrInsufficientInventory) {
				rejected++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, created)
	assert.Equal(t, n-4, rejected)
	view := f.ledgerView(t, "X")
	assert.True(t, view.Reserved.Equal(view.OnHand))
}
