package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch ReservationStatus(s) {
	case ReservationStatusActive, ReservationStatusFulfilled, ReservationStatusReleased, ReservationStatusExpired:
		return ReservationStatus(s), nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

func (s ReservationStatus) Terminal() bool {
	return s != ReservationStatusActive
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID               string            `bun:"id,pk" json:"id"`
	OrderID          string            `bun:"order_id,notnull" json:"order_id"`
	StoreID          string            `bun:"store_id,notnull" json:"store_id"`
	SKUID            string            `bun:"sku_id,notnull" json:"sku_id"`
	ReservedQuantity decimal.Decimal   `bun:"reserved_quantity,type:decimal(14,3),notnull" json:"reserved_quantity"`
	Status           ReservationStatus `bun:"status,notnull" json:"status"`
	CreatedAt        time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time         `bun:"updated_at,notnull" json:"updated_at"`
}

// ReservationFilter selects reservations for operational queries. Empty
// fields are ignored.
type ReservationFilter struct {
	OrderID string
	SKUID   string
	StoreID string
	Status  ReservationStatus
}

type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 200 {
		p.Size = 200
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

type ReservationPage struct {
	Items []Reservation `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}
