package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/uptrace/bun"
)

// Counter is an atomic increment-and-read keyed by (store, business day).
// The first call for a key returns 1. db is the caller's transaction;
// counters that live outside the database ignore it.
type Counter interface {
	Next(ctx context.Context, db bun.IDB, storeID, day string) (int, error)
}

// MemoryCounter serves a single node. Each store keeps only its current day;
// a new day starts again at 1.
type MemoryCounter struct {
	mu     sync.Mutex
	stores map[string]dayCount
}

type dayCount struct {
	day  string
	last int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{stores: make(map[string]dayCount)}
}

func (c *MemoryCounter) Next(_ context.Context, _ bun.IDB, storeID, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.stores[storeID]
	if cur.day != day {
		cur = dayCount{day: day}
	}
	if cur.last > MaxSequence {
		return cur.last, nil
	}
	cur.last++
	c.stores[storeID] = cur
	return cur.last, nil
}

// DBCounter keeps the counter in queue_counters. The upsert row-locks the
// counter until the caller's transaction ends, so a rolled back issue leaves
// no gap.
type DBCounter struct{}

func (DBCounter) Next(ctx context.Context, db bun.IDB, storeID, day string) (int, error) {
	var seq int
	err := db.NewRaw(`INSERT INTO queue_counters (store_id, business_date, last_sequence)
VALUES (?, ?, 1)
ON CONFLICT (store_id, business_date)
DO UPDATE SET last_sequence = queue_counters.last_sequence + 1
RETURNING last_sequence`, storeID, day).Scan(ctx, &seq)
	if err != nil {
		return 0, fmt.Errorf("increment queue counter %s/%s: %w", storeID, day, err)
	}
	return seq, nil
}
