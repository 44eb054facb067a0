package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-ordering/internal/models"
)

// ErrNotFound is returned when no order has the requested id.
var ErrNotFound = errors.New("order not found")

type DB struct {
	Bun bun.IDB
}

// WithTx returns a copy bound to tx.
func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

// ---------------- ORDERS ----------------

// Insert stores the order and its items.
func (d *DB) Insert(ctx context.Context, order *models.Order) error {
	if _, err := d.Bun.NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	if len(order.Items) == 0 {
		return nil
	}
	if _, err := d.Bun.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
		return fmt.Errorf("insert items of order %s: %w", order.ID, err)
	}
	return nil
}

// GetByID fetches one order with its items in line order.
func (d *DB) GetByID(ctx context.Context, id string) (*models.Order, error) {
	order := &models.Order{}
	err := d.Bun.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("line_no ASC")
		}).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

// Update writes the mutable fields if nobody else bumped the version since
// the order was read. On success order.Version is incremented; false means
// the version no longer matched.
func (d *DB) Update(ctx context.Context, order *models.Order) (bool, error) {
	expected := order.Version
	order.Version = expected + 1

	res, err := d.Bun.NewUpdate().
		Model(order).
		Column("status", "queue_number", "cancel_reason", "version", "updated_at",
			"paid_at", "production_started_at", "completed_at", "delivered_at", "cancelled_at").
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		order.Version = expected
		return false, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		order.Version = expected
		return false, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if n != 1 {
		order.Version = expected
		return false, nil
	}
	return true, nil
}

// ListStalePending returns unpaid orders created before the cutoff, oldest first.
func (d *DB) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.OrderStatusPendingPayment).
		Where("created_at < ?", before).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	return orders, nil
}

// ListByUser returns a user's orders, newest first, without items.
func (d *DB) ListByUser(ctx context.Context, userID string, page models.Page) ([]models.Order, error) {
	page = page.Normalize()
	orders := make([]models.Order, 0)
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders of user %s: %w", userID, err)
	}
	return orders, nil
}
