package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusPendingPayment    OrderStatus = "PENDING_PAYMENT"
	OrderStatusPendingProduction OrderStatus = "PENDING_PRODUCTION"
	OrderStatusProducing         OrderStatus = "PRODUCING"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPendingProduction,
	OrderStatusProducing,
	OrderStatusCompleted,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus rejects anything that is not a known status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type OrderItemRequest struct {
	SKUID    string          `json:"sku_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type OrderRequest struct {
	StoreID string             `json:"store_id"`
	UserID  string             `json:"user_id,omitempty"`
	Items   []OrderItemRequest `json:"items"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                  string          `bun:"id,pk" json:"id"`
	OrderNumber         string          `bun:"order_number,notnull,unique" json:"order_number"`
	StoreID             string          `bun:"store_id,notnull" json:"store_id"`
	UserID              string          `bun:"user_id,notnull" json:"user_id"`
	Status              OrderStatus     `bun:"status,notnull" json:"status"`
	QueueNumber         *string         `bun:"queue_number" json:"queue_number,omitempty"`
	TotalPrice          decimal.Decimal `bun:"total_price,type:decimal(14,2),notnull" json:"total_price"`
	CancelReason        string          `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	Version             int64           `bun:"version,notnull" json:"version"`
	CreatedAt           time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt           time.Time       `bun:"updated_at,notnull" json:"updated_at"`
	PaidAt              *time.Time      `bun:"paid_at" json:"paid_at,omitempty"`
	ProductionStartedAt *time.Time      `bun:"production_started_at" json:"production_started_at,omitempty"`
	CompletedAt         *time.Time      `bun:"completed_at" json:"completed_at,omitempty"`
	DeliveredAt         *time.Time      `bun:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt         *time.Time      `bun:"cancelled_at" json:"cancelled_at,omitempty"`

	Items []OrderItem `bun:"rel:has-many,join:id=order_id" json:"items"`
}

// SKUIDs returns the distinct SKUs referenced by the order lines.
func (o *Order) SKUIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.SKUID]; ok {
			continue
		}
		seen[item.SKUID] = struct{}{}
		ids = append(ids, item.SKUID)
	}
	return ids
}

// OrderItem is a priced snapshot of one order line. Prices are never re-read
// from the catalog after the order is created.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID            string          `bun:"id,pk" json:"id"`
	OrderID       string          `bun:"order_id,notnull" json:"order_id"`
	LineNo        int             `bun:"line_no,notnull" json:"line_no"`
	SKUID         string          `bun:"sku_id,notnull" json:"sku_id"`
	SKUName       string          `bun:"sku_name,notnull" json:"sku_name"`
	Unit          string          `bun:"unit,notnull" json:"unit"`
	Quantity      decimal.Decimal `bun:"quantity,type:decimal(14,3),notnull" json:"quantity"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:decimal(14,2),notnull" json:"unit_price"`
	LineTotal     decimal.Decimal `bun:"line_total,type:decimal(14,2),notnull" json:"line_total"`
	ReservationID string          `bun:"reservation_id,nullzero" json:"reservation_id,omitempty"`
}
