package inventory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ordering/internal/database/dbtest"
	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupLedger(t *testing.T) *inventory.Ledger {
	t.Helper()
	db := dbtest.New(t)
	return inventory.NewLedger(db, inventory.NewKeyLocker(time.Second), logger.NewNop())
}

func stock(t *testing.T, l *inventory.Ledger, storeID, skuID, onHand string) {
	t.Helper()
	_, err := l.Adjust(context.Background(), storeID, skuID, models.StockAdjustment{Delta: dec(onHand)})
	require.NoError(t, err)
}

func assertRecord(t *testing.T, l *inventory.Ledger, storeID, skuID, onHand, reserved string) {
	t.Helper()
	view, err := l.Get(context.Background(), storeID, skuID)
	require.NoError(t, err)
	assert.True(t, view.OnHand.Equal(dec(onHand)), "on hand: got %s want %s", view.OnHand, onHand)
	assert.True(t, view.Reserved.Equal(dec(reserved)), "reserved: got %s want %s", view.Reserved, reserved)
}

func TestLedger_MissingRecordReadsAsZero(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	available, err := l.GetAvailable(ctx, "store-1", "sku-unknown")
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	ok, err := l.TryReserve(ctx, "store-1", "sku-unknown", dec("1"))
	require.NoError(t, err)
	assert.False(t, ok, "Nothing can be reserved from a store without stock")

	view, err := l.Get(ctx, "store-1", "sku-unknown")
	require.NoError(t, err)
	assert.Equal(t, models.InventoryStatusOutOfStock, view.Status)
}

func TestLedger_ReserveReleaseFulfill(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	stock(t, l, "store-1", "milk", "10")

	ok, err := l.TryReserve(ctx, "store-1", "milk", dec("4"))
	require.NoError(t, err)
	assert.True(t, ok)
	assertRecord(t, l, "store-1", "milk", "10", "4")

	ok, err = l.TryReserve(ctx, "store-1", "milk", dec("6.5"))
	require.NoError(t, err)
	assert.False(t, ok, "Only 6 units are available")
	assertRecord(t, l, "store-1", "milk", "10", "4")

	require.NoError(t, l.Release(ctx, "store-1", "milk", dec("1")))
	assertRecord(t, l, "store-1", "milk", "10", "3")

	require.NoError(t, l.Fulfill(ctx, "store-1", "milk", dec("3")))
	assertRecord(t, l, "store-1", "milk", "7", "0")

	available, err := l.GetAvailable(ctx, "store-1", "milk")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("7")))
}

func TestLedger_ReleaseClampsAtZero(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	stock(t, l, "store-1", "tea", "5")

	ok, err := l.TryReserve(ctx, "store-1", "tea", dec("2"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "store-1", "tea", dec("3")))
	assertRecord(t, l, "store-1", "tea", "5", "0")
}

func TestLedger_RejectsNonPositiveQuantities(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	_, err := l.TryReserve(ctx, "store-1", "tea", decimal.Zero)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	err = l.Release(ctx, "store-1", "tea", dec("-1"))
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	err = l.Fulfill(ctx, "store-1", "tea", decimal.Zero)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestLedger_RejectsQuantitiesOutsideColumnPrecision(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	stock(t, l, "store-1", "milk", "10")

	_, err := l.TryReserve(ctx, "store-1", "milk", dec("0.0001"))
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = l.TryReserve(ctx, "store-1", "milk", dec("0.0006"))
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	err = l.Release(ctx, "store-1", "milk", dec("1000000000000"))
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	tests := []struct {
		name string
		adj  models.StockAdjustment
	}{
		{"sub-precision delta", models.StockAdjustment{Delta: dec("0.0004")}},
		{"oversized delta", models.StockAdjustment{Delta: dec("100000000000")}},
		{"on hand overflows", models.StockAdjustment{Delta: dec("99999999999.999")}},
		{"sub-precision safety stock", models.StockAdjustment{SafetyStock: ptr(dec("1.0005"))}},
		{"oversized safety stock", models.StockAdjustment{SafetyStock: ptr(dec("100000000000"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Adjust(ctx, "store-1", "milk", tt.adj)
			assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
		})
	}
	assertRecord(t, l, "store-1", "milk", "10", "0")

	ok, err := l.TryReserve(ctx, "store-1", "milk", dec("0.125"))
	require.NoError(t, err)
	assert.True(t, ok)
	assertRecord(t, l, "store-1", "milk", "10", "0.125")
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func TestLedger_AdjustCannotDropBelowReserved(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	stock(t, l, "store-1", "cups", "5")

	ok, err := l.TryReserve(ctx, "store-1", "cups", dec("4"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.Adjust(ctx, "store-1", "cups", models.StockAdjustment{Delta: dec("-2")})
	assert.ErrorIs(t, err, inventory.ErrAdjustBelowReserved)
	assertRecord(t, l, "store-1", "cups", "5", "4")

	safety := dec("3")
	view, err := l.Adjust(ctx, "store-1", "cups", models.StockAdjustment{Delta: dec("-1"), SafetyStock: &safety})
	require.NoError(t, err)
	assert.True(t, view.OnHand.Equal(dec("4")))
	assert.True(t, view.SafetyStock.Equal(safety))
	assert.True(t, view.Available.IsZero())
	assert.Equal(t, models.InventoryStatusOutOfStock, view.Status)
}

func TestLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	stock(t, l, "store-1", "beans", "7")

	const workers = 20
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryReserve(ctx, "store-1", "beans", dec("1"))
			assert.NoError(t, err)
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(7), successes.Load())
	assertRecord(t, l, "store-1", "beans", "7", "7")
}
