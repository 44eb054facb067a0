package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/metrics"
	"ms-ordering/internal/models"
	"ms-ordering/internal/utils"
)

// Allocator issues pickup numbers. Business days follow Location, not the
// host clock zone.
type Allocator struct {
	Counter  Counter
	Location *time.Location
	Logger   *logger.Logger
	now      func() time.Time
}

func NewAllocator(counter Counter, loc *time.Location, log *logger.Logger) *Allocator {
	if loc == nil {
		loc = time.Local
	}
	return &Allocator{
		Counter:  counter,
		Location: loc,
		Logger:   log,
		now:      time.Now,
	}
}

// BusinessDate is today in the store's zone.
func (a *Allocator) BusinessDate() string {
	return utils.BusinessDate(a.now(), a.Location, utils.DateLayout)
}

// Issue hands the order the next number of the day and stores the ticket
// through db, normally the caller's transaction.
func (a *Allocator) Issue(ctx context.Context, db bun.IDB, storeID, orderID string) (*models.QueueTicket, error) {
	now := a.now()
	day := utils.BusinessDate(now, a.Location, utils.DateLayout)

	seq, err := a.Counter.Next(ctx, db, storeID, day)
	if err != nil {
		return nil, err
	}
	if seq > MaxSequence {
		metrics.QueueCapacityExceeded.WithLabelValues(storeID).Inc()
		a.Logger.Error("QUEUE", fmt.Sprintf("Store %s exhausted queue numbers for %s (order %s)", storeID, day, orderID))
		return nil, &QueueCapacityExceededError{StoreID: storeID, BusinessDate: day}
	}

	ticket := &models.QueueTicket{
		ID:           uuid.New().String(),
		StoreID:      storeID,
		BusinessDate: day,
		Sequence:     seq,
		Number:       FormatQueueNumber(seq),
		OrderID:      orderID,
		Status:       models.TicketStatusActive,
		IssuedAt:     now,
		UpdatedAt:    now,
	}
	if _, err := db.NewInsert().Model(ticket).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert queue ticket %s for order %s: %w", ticket.Number, orderID, err)
	}

	metrics.QueueTicketsIssued.WithLabelValues(storeID).Inc()
	a.Logger.LogQueue(storeID, ticket.Number, fmt.Sprintf("issued to order %s", orderID))
	return ticket, nil
}

// FindByOrder returns the order's ticket, or nil when it has none.
func (a *Allocator) FindByOrder(ctx context.Context, db bun.IDB, orderID string) (*models.QueueTicket, error) {
	ticket := &models.QueueTicket{}
	err := db.NewSelect().Model(ticket).Where("order_id = ?", orderID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find queue ticket for order %s: %w", orderID, err)
	}
	return ticket, nil
}

// SetStatus moves the order's ticket to status. Orders without a ticket are
// left alone and nil is returned.
func (a *Allocator) SetStatus(ctx context.Context, db bun.IDB, orderID string, status models.TicketStatus) (*models.QueueTicket, error) {
	ticket, err := a.FindByOrder(ctx, db, orderID)
	if err != nil || ticket == nil {
		return nil, err
	}
	ticket.Status = status
	ticket.UpdatedAt = a.now()
	_, err = db.NewUpdate().
		Model(ticket).
		Column("status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update queue ticket %s: %w", ticket.Number, err)
	}
	a.Logger.LogQueue(ticket.StoreID, ticket.Number, fmt.Sprintf("now %s", status))
	return ticket, nil
}

// ListOpen returns today's tickets that are not yet collected, in issue order.
func (a *Allocator) ListOpen(ctx context.Context, db bun.IDB, storeID string) ([]models.QueueTicket, error) {
	tickets := make([]models.QueueTicket, 0)
	err := db.NewSelect().
		Model(&tickets).
		Where("store_id = ?", storeID).
		Where("business_date = ?", a.BusinessDate()).
		Where("status != ?", models.TicketStatusCompleted).
		OrderExpr("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue tickets for store %s: %w", storeID, err)
	}
	return tickets, nil
}
