package models

import "time"

// OrderEvent is the payload published to Kafka on order lifecycle changes.
type OrderEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	StoreID     string      `json:"store_id"`
	UserID      string      `json:"user_id"`
	From        OrderStatus `json:"from,omitempty"`
	Status      OrderStatus `json:"status"`
	QueueNumber *string     `json:"queue_number,omitempty"`
	TotalPrice  string      `json:"total_price"`
	Reason      string      `json:"reason,omitempty"`
	Version     int64       `json:"version"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

func NewOrderEvent(o *Order, from OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		UserID:      o.UserID,
		From:        from,
		Status:      o.Status,
		QueueNumber: o.QueueNumber,
		TotalPrice:  o.TotalPrice.StringFixed(2),
		Reason:      o.CancelReason,
		Version:     o.Version,
		OccurredAt:  at,
	}
}
