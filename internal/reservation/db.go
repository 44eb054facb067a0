package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-ordering/internal/models"
)

// DB persists reservation rows.
type DB struct {
	Bun bun.IDB
}

// WithTx returns a copy bound to tx.
func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

func (d *DB) Create(ctx context.Context, r *models.Reservation) error {
	if _, err := d.Bun.NewInsert().Model(r).Exec(ctx); err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

// FindByOrderID returns every reservation of an order ordered by SKU.
func (d *DB) FindByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("order_id = ?", orderID).
		OrderExpr("sku_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find reservations for order %s: %w", orderID, err)
	}
	return out, nil
}

func (d *DB) FindActiveByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("order_id = ?", orderID).
		Where("status = ?", models.ReservationStatusActive).
		OrderExpr("sku_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find active reservations for order %s: %w", orderID, err)
	}
	return out, nil
}

// Query pages through reservations matching the filter, newest first.
func (d *DB) Query(ctx context.Context, filter models.ReservationFilter, page models.Page) (*models.ReservationPage, error) {
	page = page.Normalize()
	items := make([]models.Reservation, 0, page.Size)

	q := d.Bun.NewSelect().Model(&items)
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.SKUID != "" {
		q = q.Where("sku_id = ?", filter.SKUID)
	}
	if filter.StoreID != "" {
		q = q.Where("store_id = ?", filter.StoreID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	total, err := q.
		OrderExpr("created_at DESC, id ASC").
		Limit(page.Size).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}

	return &models.ReservationPage{
		Items: items,
		Total: total,
		Page:  page.Number,
		Size:  page.Size,
	}, nil
}

// UpdateStatus moves an ACTIVE reservation to a terminal status. It reports
// false, with no error, when the reservation already left ACTIVE.
func (d *DB) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("reservation %s: cannot move to %s", id, status)
	}
	res, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update reservation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update reservation %s: %w", id, err)
	}
	return n == 1, nil
}
