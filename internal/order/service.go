package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-ordering/internal/catalog"
	"ms-ordering/internal/config"
	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/metrics"
	"ms-ordering/internal/models"
	"ms-ordering/internal/order/db"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/reservation"
	"ms-ordering/internal/utils"
)

const (
	ExpiredReason   = "reservation expired"
	expireBatchSize = 100
	publishTimeout  = 5 * time.Second
)

// EventPublisher delivers lifecycle events. The Kafka producer is the
// production implementation.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type OrderService struct {
	DB           *bun.DB
	Orders       *db.DB
	Reservations *reservation.Service
	Allocator    *queue.Allocator
	Catalog      catalog.Catalog
	Publisher    EventPublisher
	Topics       config.TopicConfig
	Board        *queue.Board
	Logger       *logger.Logger
	now          func() time.Time
}

func NewOrderService(
	bunDB *bun.DB,
	reservations *reservation.Service,
	allocator *queue.Allocator,
	cat catalog.Catalog,
	publisher EventPublisher,
	topics config.TopicConfig,
	board *queue.Board,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		DB:           bunDB,
		Orders:       &db.DB{Bun: bunDB},
		Reservations: reservations,
		Allocator:    allocator,
		Catalog:      cat,
		Publisher:    publisher,
		Topics:       topics,
		Board:        board,
		Logger:       log,
		now:          time.Now,
	}
}

// CreateOrder prices the items from the catalog, reserves stock for every
// line and stores the order as PENDING_PAYMENT, all or nothing.
func (s *OrderService) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:          uuid.New().String(),
		OrderNumber: utils.GenerateOrderNumber(now, s.Allocator.Location),
		StoreID:     req.StoreID,
		UserID:      req.UserID,
		Status:      models.OrderStatusPendingPayment,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	total := decimal.Zero
	lines := make([]reservation.Line, 0, len(req.Items))
	for i, item := range req.Items {
		product, err := s.Catalog.Lookup(ctx, item.SKUID)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownSKU) {
				return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidOrder, i+1, err)
			}
			return nil, err
		}

		lineTotal := item.Quantity.Mul(product.UnitPrice).Round(2)
		total = total.Add(lineTotal)
		order.Items = append(order.Items, models.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			LineNo:    i + 1,
			SKUID:     item.SKUID,
			SKUName:   product.Name,
			Unit:      product.Unit,
			Quantity:  item.Quantity,
			UnitPrice: product.UnitPrice,
			LineTotal: lineTotal,
		})
		lines = append(lines, reservation.Line{
			SKUID:    item.SKUID,
			SKUName:  product.Name,
			Unit:     product.Unit,
			Quantity: item.Quantity,
		})
	}
	order.TotalPrice = total

	_, err := s.Reservations.ReserveAllWith(ctx, order.StoreID, order.ID, lines,
		func(ctx context.Context, tx bun.Tx, reserved []models.Reservation) error {
			bySKU := make(map[string]string, len(reserved))
			for _, r := range reserved {
				bySKU[r.SKUID] = r.ID
			}
			for i := range order.Items {
				order.Items[i].ReservationID = bySKU[order.Items[i].SKUID]
			}
			return s.Orders.WithTx(tx).Insert(ctx, order)
		})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues("NEW", string(order.Status)).Inc()
	s.Logger.LogOrder("CREATED", order.ID, fmt.Sprintf("%s at store %s, total %s", order.OrderNumber, order.StoreID, order.TotalPrice.StringFixed(2)))
	s.publish(ctx, s.Topics.OrderCreated, models.NewOrderEvent(order, "", now))
	return order, nil
}

// CancelOrder cancels an order that has not entered production and returns
// its reserved stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	return s.transition(ctx, orderID, models.OrderStatusCancelled, reason, false)
}

// AdvanceOrder moves an order to target and applies that transition's side
// effects in the same transaction as the status change.
func (s *OrderService) AdvanceOrder(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error) {
	if target == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, orderID, "")
	}
	return s.transition(ctx, orderID, target, "", false)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.Orders.GetByID(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, err
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string, page models.Page) ([]models.Order, error) {
	return s.Orders.ListByUser(ctx, userID, page)
}

// QueryReservations is the read side used by operational tooling.
func (s *OrderService) QueryReservations(ctx context.Context, filter models.ReservationFilter, page models.Page) (*models.ReservationPage, error) {
	return s.Reservations.Query(ctx, filter, page)
}

// Ticket returns the order's queue ticket, or nil before production starts.
func (s *OrderService) Ticket(ctx context.Context, orderID string) (*models.QueueTicket, error) {
	return s.Allocator.FindByOrder(ctx, s.DB, orderID)
}

// ExpireStale cancels unpaid orders created before cutoff and marks their
// reservations EXPIRED. Orders that move on concurrently are skipped.
func (s *OrderService) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.Orders.ListStalePending(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	var firstErr error
	for _, o := range stale {
		if ctx.Err() != nil {
			break
		}
		_, err := s.transition(ctx, o.ID, models.OrderStatusCancelled, ExpiredReason, true)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrConcurrentUpdate):
			s.Logger.Debug("SWEEPER", fmt.Sprintf("Order %s moved on before expiry: %v", o.ID, err))
		default:
			if firstErr == nil {
				firstErr = err
			}
			s.Logger.Error("SWEEPER", fmt.Sprintf("Expire order %s failed: %v", o.ID, err))
		}
	}
	return expired, firstErr
}

func (s *OrderService) transition(ctx context.Context, orderID string, target models.OrderStatus, reason string, expire bool) (*models.Order, error) {
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionTo(current.Status, target) {
		return nil, &InvalidStateTransitionError{OrderID: orderID, From: current.Status, To: target}
	}

	// Stock moves only on cancel and completion; those take the same SKU
	// locks as reservation.
	if target == models.OrderStatusCancelled || target == models.OrderStatusCompleted {
		unlock, err := s.Reservations.LockSKUs(ctx, current.StoreID, current.SKUIDs())
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	ctx = context.WithoutCancel(ctx)

	var (
		updated *models.Order
		from    models.OrderStatus
		ticket  *models.QueueTicket
	)
	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		orders := s.Orders.WithTx(tx)
		o, err := orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransitionTo(from, target) {
			return &InvalidStateTransitionError{OrderID: orderID, From: from, To: target}
		}

		now := s.now()
		switch target {
		case models.OrderStatusPendingProduction:
			o.PaidAt = &now
		case models.OrderStatusProducing:
			ticket, err = s.Allocator.Issue(ctx, tx, o.StoreID, o.ID)
			if err != nil {
				return err
			}
			o.QueueNumber = &ticket.Number
			o.ProductionStartedAt = &now
		case models.OrderStatusCompleted:
			if _, err := s.Reservations.FulfillByOrderTx(ctx, tx, o.ID); err != nil {
				return err
			}
			ticket, err = s.Allocator.SetStatus(ctx, tx, o.ID, models.TicketStatusCalled)
			if err != nil {
				return err
			}
			o.CompletedAt = &now
		case models.OrderStatusDelivered:
			ticket, err = s.Allocator.SetStatus(ctx, tx, o.ID, models.TicketStatusCompleted)
			if err != nil {
				return err
			}
			o.DeliveredAt = &now
		case models.OrderStatusCancelled:
			settle := s.Reservations.ReleaseByOrderTx
			if expire {
				settle = s.Reservations.ExpireByOrderTx
			}
			if _, err := settle(ctx, tx, o.ID); err != nil {
				return err
			}
			o.CancelledAt = &now
			o.CancelReason = reason
		}
		o.Status = target
		o.UpdatedAt = now

		ok, err := orders.Update(ctx, o)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrConcurrentUpdate, orderID)
		}
		updated = o
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		var capErr *queue.QueueCapacityExceededError
		if errors.As(err, &capErr) {
			s.Logger.Error("ORDER", fmt.Sprintf("Order %s cannot start production: %v", orderID, err))
		}
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(from), string(target)).Inc()
	s.Logger.LogOrder(string(target), orderID, fmt.Sprintf("%s -> %s", from, target))

	at := updated.UpdatedAt
	event := models.NewOrderEvent(updated, from, at)
	s.publish(ctx, s.Topics.OrderStatusChanged, event)
	if target == models.OrderStatusCancelled {
		s.publish(ctx, s.Topics.OrderCancelled, event)
	}
	if ticket != nil {
		s.Board.Emit(models.TicketEvent{
			StoreID: ticket.StoreID,
			OrderID: ticket.OrderID,
			Number:  ticket.Number,
			Status:  ticket.Status,
			At:      at,
		})
	}
	return updated, nil
}

// publish runs after commit. A failed publish is logged and does not undo
// the state change.
func (s *OrderService) publish(ctx context.Context, topic string, event models.OrderEvent) {
	if s.Publisher == nil || topic == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Marshal %s event for order %s: %v", topic, event.OrderID, err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Publisher.Publish(ctx, topic, event.OrderID, payload); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Event %s for order %s not published: %v", topic, event.OrderID, err))
	}
}

func validateRequest(req models.OrderRequest) error {
	switch {
	case req.StoreID == "":
		return fmt.Errorf("%w: store_id is required", ErrInvalidOrder)
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidOrder)
	case len(req.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, item := range req.Items {
		if item.SKUID == "" {
			return fmt.Errorf("%w: item %d has no sku_id", ErrInvalidOrder, i+1)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i+1)
		}
		if err := inventory.CheckQuantity(item.Quantity); err != nil {
			return fmt.Errorf("%w: item %d quantity %v", ErrInvalidOrder, i+1, err)
		}
	}
	return nil
}
