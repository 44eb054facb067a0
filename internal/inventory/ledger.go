package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
)

// Ledger is the public face of the inventory rows. Each mutating call takes
// the key lock, then applies the change in its own transaction.
type Ledger struct {
	DB     *bun.DB
	Store  *Store
	Locker *KeyLocker
	Logger *logger.Logger
}

func NewLedger(db *bun.DB, locker *KeyLocker, log *logger.Logger) *Ledger {
	return &Ledger{
		DB:     db,
		Store:  NewStore(db, log),
		Locker: locker,
		Logger: log,
	}
}

// GetAvailable returns on-hand minus reserved without taking the key lock.
func (l *Ledger) GetAvailable(ctx context.Context, storeID, skuID string) (decimal.Decimal, error) {
	rec, err := l.Store.Find(ctx, Key{StoreID: storeID, SKUID: skuID})
	if err != nil {
		return decimal.Zero, err
	}
	return rec.Available(), nil
}

// Get returns the record with its display status.
func (l *Ledger) Get(ctx context.Context, storeID, skuID string) (*models.InventoryView, error) {
	rec, err := l.Store.Find(ctx, Key{StoreID: storeID, SKUID: skuID})
	if err != nil {
		return nil, err
	}
	view := View(*rec)
	return &view, nil
}

func (l *Ledger) TryReserve(ctx context.Context, storeID, skuID string, qty decimal.Decimal) (bool, error) {
	var ok bool
	err := l.withKey(ctx, Key{StoreID: storeID, SKUID: skuID}, func(ctx context.Context, st *Store, key Key) error {
		var err error
		ok, err = st.TryReserve(ctx, key, qty)
		return err
	})
	return ok, err
}

func (l *Ledger) Release(ctx context.Context, storeID, skuID string, qty decimal.Decimal) error {
	return l.withKey(ctx, Key{StoreID: storeID, SKUID: skuID}, func(ctx context.Context, st *Store, key Key) error {
		return st.Release(ctx, key, qty)
	})
}

func (l *Ledger) Fulfill(ctx context.Context, storeID, skuID string, qty decimal.Decimal) error {
	return l.withKey(ctx, Key{StoreID: storeID, SKUID: skuID}, func(ctx context.Context, st *Store, key Key) error {
		return st.Fulfill(ctx, key, qty)
	})
}

func (l *Ledger) Adjust(ctx context.Context, storeID, skuID string, adj models.StockAdjustment) (*models.InventoryView, error) {
	var rec *models.InventoryRecord
	err := l.withKey(ctx, Key{StoreID: storeID, SKUID: skuID}, func(ctx context.Context, st *Store, key Key) error {
		var err error
		rec, err = st.Adjust(ctx, key, adj)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Logger.Info("LEDGER", fmt.Sprintf("Adjusted %s/%s by %s (%s), on hand now %s", storeID, skuID, adj.Delta, adj.Reason, rec.OnHand))
	view := View(*rec)
	return &view, nil
}

func (l *Ledger) withKey(ctx context.Context, key Key, fn func(context.Context, *Store, Key) error) error {
	unlock, err := l.Locker.LockAll(ctx, []Key{key})
	if err != nil {
		return err
	}
	defer unlock()

	// The lock is held: finish or roll back regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	return l.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, l.Store.WithTx(tx), key)
	})
}
