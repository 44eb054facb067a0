package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ordering/internal/database/dbtest"
	"ms-ordering/internal/models"
	"ms-ordering/internal/order/db"
)

func newOrder(userID string, createdAt time.Time) *models.Order {
	id := uuid.New().String()
	return &models.Order{
		ID:          id,
		OrderNumber: "ORD-" + id[:8],
		StoreID:     "store-1",
		UserID:      userID,
		Status:      models.OrderStatusPendingPayment,
		TotalPrice:  decimal.RequireFromString("9.00"),
		Version:     1,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Items: []models.OrderItem{
			{ID: uuid.New().String(), OrderID: id, LineNo: 2, SKUID: "beans", SKUName: "Beans", Unit: "kg",
				Quantity: decimal.RequireFromString("0.5"), UnitPrice: decimal.RequireFromString("10"), LineTotal: decimal.RequireFromString("5")},
			{ID: uuid.New().String(), OrderID: id, LineNo: 1, SKUID: "latte", SKUName: "Latte", Unit: "cup",
				Quantity: decimal.RequireFromString("1"), UnitPrice: decimal.RequireFromString("4"), LineTotal: decimal.RequireFromString("4")},
		},
	}
}

func TestGetByID(t *testing.T) {
	orders := &db.DB{Bun: dbtest.New(t)}
	ctx := context.Background()

	o := newOrder("user-1", time.Now())
	require.NoError(t, orders.Insert(ctx, o))

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, models.OrderStatusPendingPayment, got.Status)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "latte", got.Items[0].SKUID)
	assert.Equal(t, "beans", got.Items[1].SKUID)
	assert.True(t, got.Items[1].Quantity.Equal(decimal.RequireFromString("0.5")))

	_, err = orders.GetByID(ctx, "non-existent")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUpdate_ChecksVersion(t *testing.T) {
	orders := &db.DB{Bun: dbtest.New(t)}
	ctx := context.Background()

	o := newOrder("user-1", time.Now())
	require.NoError(t, orders.Insert(ctx, o))

	first, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	second, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)

	now := time.Now()
	first.Status = models.OrderStatusPendingProduction
	first.PaidAt = &now
	ok, err := orders.Update(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.OrderStatusCancelled
	ok, err = orders.Update(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not win")
	assert.Equal(t, int64(1), second.Version)

	stored, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingProduction, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, int64(2), stored.Version)
}

func TestListStalePending(t *testing.T) {
	orders := &db.DB{Bun: dbtest.New(t)}
	ctx := context.Background()
	now := time.Now()

	old := newOrder("user-1", now.Add(-time.Hour))
	fresh := newOrder("user-1", now)
	paid := newOrder("user-1", now.Add(-2*time.Hour))
	paid.Status = models.OrderStatusPendingProduction
	for _, o := range []*models.Order{old, fresh, paid} {
		require.NoError(t, orders.Insert(ctx, o))
	}

	stale, err := orders.ListStalePending(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestListByUser(t *testing.T) {
	orders := &db.DB{Bun: dbtest.New(t)}
	ctx := context.Background()
	now := time.Now()

	older := newOrder("user-1", now.Add(-time.Minute))
	newer := newOrder("user-1", now)
	other := newOrder("user-2", now)
	for _, o := range []*models.Order{older, newer, other} {
		require.NoError(t, orders.Insert(ctx, o))
	}

	list, err := orders.ListByUser(ctx, "user-1", models.Page{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	list, err = orders.ListByUser(ctx, "user-1", models.Page{Number: 2, Size: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	list, err = orders.ListByUser(ctx, "nobody", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
