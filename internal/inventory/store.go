package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
)

// Store performs the row-level ledger mutations. Every mutating method
// assumes the caller already holds the KeyLocker lock for the key and runs
// inside a transaction.
type Store struct {
	Bun    bun.IDB
	Logger *logger.Logger
	now    func() time.Time
}

func NewStore(db bun.IDB, log *logger.Logger) *Store {
	return &Store{Bun: db, Logger: log, now: time.Now}
}

// WithTx returns a copy of the store bound to tx.
func (s *Store) WithTx(tx bun.IDB) *Store {
	cp := *s
	cp.Bun = tx
	return &cp
}

// Find reads a record without creating it. A missing row reads as zero stock.
func (s *Store) Find(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	rec := &models.InventoryRecord{}
	err := s.Bun.NewSelect().
		Model(rec).
		Where("store_id = ?", key.StoreID).
		Where("sku_id = ?", key.SKUID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return zeroRecord(key, time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find inventory %s: %w", key, err)
	}
	return rec, nil
}

// Load reads the record for update, creating a zero row on first touch.
func (s *Store) Load(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	rec, err := s.selectForUpdate(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load inventory %s: %w", key, err)
	}

	_, err = s.Bun.NewInsert().
		Model(zeroRecord(key, s.now())).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("create inventory %s: %w", key, err)
	}

	rec, err = s.selectForUpdate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) selectForUpdate(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	rec := &models.InventoryRecord{}
	q := s.Bun.NewSelect().
		Model(rec).
		Where("store_id = ?", key.StoreID).
		Where("sku_id = ?", key.SKUID)
	if s.Bun.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec *models.InventoryRecord) error {
	rec.UpdatedAt = s.now()
	_, err := s.Bun.NewUpdate().
		Model(rec).
		Column("on_hand", "reserved", "safety_stock", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save inventory %s/%s: %w", rec.StoreID, rec.SKUID, err)
	}
	return nil
}

// TryReserve moves qty from available to reserved. It reports false and
// changes nothing when available stock is short.
func (s *Store) TryReserve(ctx context.Context, key Key, qty decimal.Decimal) (bool, error) {
	if err := checkPositive(qty); err != nil {
		return false, err
	}
	rec, err := s.Load(ctx, key)
	if err != nil {
		return false, err
	}
	if rec.Available().LessThan(qty) {
		return false, nil
	}
	rec.Reserved = rec.Reserved.Add(qty)
	if err := s.save(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Release returns qty of reserved stock to the available pool.
func (s *Store) Release(ctx context.Context, key Key, qty decimal.Decimal) error {
	if err := checkPositive(qty); err != nil {
		return err
	}
	rec, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if rec.Reserved.LessThan(qty) {
		s.Logger.Error("LEDGER", fmt.Sprintf("Invariant violation: release of %s on %s exceeds reserved %s, clamping to zero", qty, key, rec.Reserved))
		rec.Reserved = decimal.Zero
	} else {
		rec.Reserved = rec.Reserved.Sub(qty)
	}
	return s.save(ctx, rec)
}

// Fulfill consumes qty of reserved stock: both on-hand and reserved drop.
func (s *Store) Fulfill(ctx context.Context, key Key, qty decimal.Decimal) error {
	if err := checkPositive(qty); err != nil {
		return err
	}
	rec, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if rec.Reserved.LessThan(qty) {
		s.Logger.Error("LEDGER", fmt.Sprintf("Invariant violation: fulfilment of %s on %s exceeds reserved %s, clamping to zero", qty, key, rec.Reserved))
		rec.Reserved = decimal.Zero
	} else {
		rec.Reserved = rec.Reserved.Sub(qty)
	}
	rec.OnHand = decimal.Max(rec.OnHand.Sub(qty), rec.Reserved)
	return s.save(ctx, rec)
}

// Adjust adds adj.Delta to on-hand stock and optionally replaces the safety
// stock. A delta that would leave on-hand below reserved is rejected.
func (s *Store) Adjust(ctx context.Context, key Key, adj models.StockAdjustment) (*models.InventoryRecord, error) {
	if err := CheckQuantity(adj.Delta); err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}
	if adj.SafetyStock != nil {
		if adj.SafetyStock.IsNegative() {
			return nil, fmt.Errorf("safety stock %s: %w", adj.SafetyStock, ErrInvalidQuantity)
		}
		if err := CheckQuantity(*adj.SafetyStock); err != nil {
			return nil, fmt.Errorf("safety stock: %w", err)
		}
	}
	rec, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	onHand := rec.OnHand.Add(adj.Delta)
	if onHand.LessThan(rec.Reserved) {
		return nil, fmt.Errorf("%s: on hand %s, reserved %s, delta %s: %w", key, rec.OnHand, rec.Reserved, adj.Delta, ErrAdjustBelowReserved)
	}
	if err := CheckQuantity(onHand); err != nil {
		return nil, fmt.Errorf("%s: on hand after adjustment: %w", key, err)
	}
	rec.OnHand = onHand
	if adj.SafetyStock != nil {
		rec.SafetyStock = *adj.SafetyStock
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func zeroRecord(key Key, at time.Time) *models.InventoryRecord {
	return &models.InventoryRecord{
		StoreID:     key.StoreID,
		SKUID:       key.SKUID,
		OnHand:      decimal.Zero,
		Reserved:    decimal.Zero,
		SafetyStock: decimal.Zero,
		UpdatedAt:   at,
	}
}
