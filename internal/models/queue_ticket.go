package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "ACTIVE"
	TicketStatusCalled    TicketStatus = "CALLED"
	TicketStatusCompleted TicketStatus = "COMPLETED"
)

// QueueTicket is the pickup number handed out when an order enters production.
type QueueTicket struct {
	bun.BaseModel `bun:"table:queue_tickets,alias:qt"`

	ID           string       `bun:"id,pk" json:"id"`
	StoreID      string       `bun:"store_id,notnull,unique:queue_ticket_day_seq" json:"store_id"`
	BusinessDate string       `bun:"business_date,notnull,unique:queue_ticket_day_seq" json:"business_date"`
	Sequence     int          `bun:"sequence,notnull,unique:queue_ticket_day_seq" json:"sequence"`
	Number       string       `bun:"number,notnull" json:"number"`
	OrderID      string       `bun:"order_id,notnull,unique" json:"order_id"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	IssuedAt     time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

// QueueCounter is the last sequence handed out for a store on a business day.
type QueueCounter struct {
	bun.BaseModel `bun:"table:queue_counters,alias:qc"`

	StoreID      string `bun:"store_id,pk" json:"store_id"`
	BusinessDate string `bun:"business_date,pk" json:"business_date"`
	LastSequence int    `bun:"last_sequence,notnull" json:"last_sequence"`
}

// TicketEvent is broadcast to pickup boards whenever a ticket changes status.
type TicketEvent struct {
	StoreID string       `json:"store_id"`
	OrderID string       `json:"order_id"`
	Number  string       `json:"number"`
	Status  TicketStatus `json:"status"`
	At      time.Time    `json:"at"`
}
