package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-ordering/internal/models"
	"ms-ordering/internal/queue"
)

// DB handles analytics database operations
type DB struct {
	bun bun.IDB
}

// NewDB creates a new analytics DB handler
func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

// OrdersBetween returns a store's orders created in [from, to), with items.
func (db *DB) OrdersBetween(ctx context.Context, storeID string, from, to time.Time) ([]models.Order, error) {
	orders := make([]models.Order, 0)
	err := db.bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.store_id = ?", storeID).
		Where("o.created_at >= ?", from).
		Where("o.created_at < ?", to).
		OrderExpr("o.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders of store %s: %w", storeID, err)
	}
	return orders, nil
}

// TicketsIssued counts queue tickets per business date for a store.
func (db *DB) TicketsIssued(ctx context.Context, storeID, fromDate, toDate string) (map[string]int, error) {
	var counters []models.QueueCounter
	err := db.bun.NewSelect().
		Model(&counters).
		Where("store_id = ?", storeID).
		Where("business_date >= ?", fromDate).
		Where("business_date <= ?", toDate).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue counters of store %s: %w", storeID, err)
	}
	issued := make(map[string]int, len(counters))
	for _, c := range counters {
		// An exhausted day keeps counting past the last issued number.
		issued[c.BusinessDate] = min(c.LastSequence, queue.MaxSequence)
	}
	return issued, nil
}
