package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/metrics"
	"ms-ordering/internal/models"
)

// Line is one demanded SKU. Name and unit only decorate shortage reports.
type Line struct {
	SKUID    string
	SKUName  string
	Unit     string
	Quantity decimal.Decimal
}

// AfterReserve runs inside the reservation transaction once every row is in
// place. Returning an error rolls the whole reservation back.
type AfterReserve func(ctx context.Context, tx bun.Tx, reservations []models.Reservation) error

type Service struct {
	DB     *bun.DB
	Store  *DB
	Ledger *inventory.Ledger
	Logger *logger.Logger
	now    func() time.Time
}

func NewService(db *bun.DB, ledger *inventory.Ledger, log *logger.Logger) *Service {
	return &Service{
		DB:     db,
		Store:  &DB{Bun: db},
		Ledger: ledger,
		Logger: log,
		now:    time.Now,
	}
}

// ReserveAll reserves every line at the store or nothing.
func (s *Service) ReserveAll(ctx context.Context, storeID, orderID string, lines []Line) ([]models.Reservation, error) {
	return s.ReserveAllWith(ctx, storeID, orderID, lines, nil)
}

// ReserveAllWith is ReserveAll with a hook that shares the transaction, so
// the caller can persist its own rows atomically with the reservations.
func (s *Service) ReserveAllWith(ctx context.Context, storeID, orderID string, lines []Line, then AfterReserve) ([]models.Reservation, error) {
	demand, err := aggregate(lines)
	if err != nil {
		return nil, err
	}

	skuIDs := make([]string, len(demand))
	for i, d := range demand {
		skuIDs[i] = d.SKUID
	}

	unlock, err := s.LockSKUs(ctx, storeID, skuIDs)
	if err != nil {
		if errors.Is(err, inventory.ErrLockTimeout) {
			metrics.ReservationsTotal.WithLabelValues("lock_timeout").Inc()
			s.Logger.Warn("RESERVATION", fmt.Sprintf("Lock timeout for order %s at store %s", orderID, storeID))
		}
		return nil, err
	}
	defer unlock()

	// Locks are held from here on; the caller going away must not leave a
	// half-applied reservation behind.
	ctx = context.WithoutCancel(ctx)

	var created []models.Reservation
	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := s.Ledger.Store.WithTx(tx)
		store := s.Store.WithTx(tx)

		var shortages []inventory.Shortage
		for _, d := range demand {
			rec, err := ledger.Load(ctx, inventory.Key{StoreID: storeID, SKUID: d.SKUID})
			if err != nil {
				return err
			}
			available := rec.Available()
			if available.LessThan(d.Quantity) {
				shortages = append(shortages, inventory.Shortage{
					SKUID:     d.SKUID,
					SKUName:   d.SKUName,
					Available: available,
					Required:  d.Quantity,
					Shortage:  d.Quantity.Sub(available),
					Unit:      d.Unit,
				})
			}
		}
		if len(shortages) > 0 {
			return &inventory.InsufficientInventoryError{StoreID: storeID, Shortages: shortages}
		}

		now := s.now()
		created = make([]models.Reservation, 0, len(demand))
		for _, d := range demand {
			key := inventory.Key{StoreID: storeID, SKUID: d.SKUID}
			ok, err := ledger.TryReserve(ctx, key, d.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("reserve %s for order %s: stock changed while locked", key, orderID)
			}

			r := models.Reservation{
				ID:               uuid.New().String(),
				OrderID:          orderID,
				StoreID:          storeID,
				SKUID:            d.SKUID,
				ReservedQuantity: d.Quantity,
				Status:           models.ReservationStatusActive,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := store.Create(ctx, &r); err != nil {
				return err
			}
			created = append(created, r)
		}

		if then != nil {
			return then(ctx, tx, created)
		}
		return nil
	})
	if err != nil {
		var shortage *inventory.InsufficientInventoryError
		if errors.As(err, &shortage) {
			metrics.ReservationsTotal.WithLabelValues("shortage").Inc()
			s.Logger.LogReservation("SHORTAGE", orderID, shortage.Error())
		} else {
			metrics.ReservationsTotal.WithLabelValues("error").Inc()
			s.Logger.Error("RESERVATION", fmt.Sprintf("Reservation for order %s failed: %v", orderID, err))
		}
		return nil, err
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	s.Logger.LogReservation("RESERVED", orderID, fmt.Sprintf("%d line(s) at store %s", len(created), storeID))
	return created, nil
}

// LockSKUs takes the ledger locks for the given SKUs at a store.
func (s *Service) LockSKUs(ctx context.Context, storeID string, skuIDs []string) (func(), error) {
	keys := make([]inventory.Key, len(skuIDs))
	for i, sku := range skuIDs {
		keys[i] = inventory.Key{StoreID: storeID, SKUID: sku}
	}
	return s.Ledger.Locker.LockAll(ctx, keys)
}

// ReleaseByOrderTx returns the stock of every ACTIVE reservation of the order
// and marks them RELEASED. The caller holds the SKU locks and owns tx.
func (s *Service) ReleaseByOrderTx(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	return s.settle(ctx, tx, orderID, models.ReservationStatusReleased)
}

// ExpireByOrderTx is ReleaseByOrderTx for reservations that timed out.
func (s *Service) ExpireByOrderTx(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	return s.settle(ctx, tx, orderID, models.ReservationStatusExpired)
}

// FulfillByOrderTx consumes the reserved stock of the order and marks its
// reservations FULFILLED.
func (s *Service) FulfillByOrderTx(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	return s.settle(ctx, tx, orderID, models.ReservationStatusFulfilled)
}

// ReleaseByOrder locks, releases and commits on its own. Calling it again
// for the same order changes nothing.
func (s *Service) ReleaseByOrder(ctx context.Context, orderID string) error {
	return s.settleLocked(ctx, orderID, models.ReservationStatusReleased)
}

func (s *Service) FulfillByOrder(ctx context.Context, orderID string) error {
	return s.settleLocked(ctx, orderID, models.ReservationStatusFulfilled)
}

func (s *Service) settleLocked(ctx context.Context, orderID string, target models.ReservationStatus) error {
	active, err := s.Store.FindActiveByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	keys := make([]inventory.Key, len(active))
	for i, r := range active {
		keys[i] = inventory.Key{StoreID: r.StoreID, SKUID: r.SKUID}
	}
	unlock, err := s.Ledger.Locker.LockAll(ctx, keys)
	if err != nil {
		return err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.settle(ctx, tx, orderID, target)
		return err
	})
}

func (s *Service) settle(ctx context.Context, tx bun.IDB, orderID string, target models.ReservationStatus) (int, error) {
	store := s.Store.WithTx(tx)
	ledger := s.Ledger.Store.WithTx(tx)

	active, err := store.FindActiveByOrderID(ctx, orderID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	settled := 0
	for _, r := range active {
		changed, err := store.UpdateStatus(ctx, r.ID, target, now)
		if err != nil {
			return settled, err
		}
		if !changed {
			continue
		}

		key := inventory.Key{StoreID: r.StoreID, SKUID: r.SKUID}
		if target == models.ReservationStatusFulfilled {
			err = ledger.Fulfill(ctx, key, r.ReservedQuantity)
		} else {
			err = ledger.Release(ctx, key, r.ReservedQuantity)
		}
		if err != nil {
			return settled, fmt.Errorf("settle reservation %s as %s: %w", r.ID, target, err)
		}
		settled++
	}

	if settled > 0 {
		metrics.ReservationsSettled.WithLabelValues(string(target)).Add(float64(settled))
		s.Logger.LogReservation(string(target), orderID, fmt.Sprintf("%d reservation(s)", settled))
	}
	return settled, nil
}

// Query lists reservations without taking any ledger lock.
func (s *Service) Query(ctx context.Context, filter models.ReservationFilter, page models.Page) (*models.ReservationPage, error) {
	return s.Store.Query(ctx, filter, page)
}

// aggregate folds duplicate SKUs together and sorts by SKU id.
func aggregate(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines to reserve: %w", inventory.ErrInvalidQuantity)
	}
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.SKUID == "" {
			return nil, errors.New("reservation line without sku id")
		}
		if !l.Quantity.IsPositive() {
			return nil, fmt.Errorf("sku %s: %w", l.SKUID, inventory.ErrInvalidQuantity)
		}
		if err := inventory.CheckQuantity(l.Quantity); err != nil {
			return nil, fmt.Errorf("sku %s: %w", l.SKUID, err)
		}
		if i, ok := index[l.SKUID]; ok {
			out[i].Quantity = out[i].Quantity.Add(l.Quantity)
			continue
		}
		index[l.SKUID] = len(out)
		out = append(out, l)
	}
	for _, l := range out {
		if err := inventory.CheckQuantity(l.Quantity); err != nil {
			return nil, fmt.Errorf("sku %s total: %w", l.SKUID, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out, nil
}
