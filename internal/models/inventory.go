package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// InventoryRecord holds the stock of one SKU at one store.
type InventoryRecord struct {
	bun.BaseModel `bun:"table:inventory_records,alias:ir"`

	StoreID     string          `bun:"store_id,pk" json:"store_id"`
	SKUID       string          `bun:"sku_id,pk" json:"sku_id"`
	OnHand      decimal.Decimal `bun:"on_hand,type:decimal(14,3),notnull" json:"on_hand"`
	Reserved    decimal.Decimal `bun:"reserved,type:decimal(14,3),notnull" json:"reserved"`
	SafetyStock decimal.Decimal `bun:"safety_stock,type:decimal(14,3),notnull" json:"safety_stock"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

func (r *InventoryRecord) Available() decimal.Decimal {
	return r.OnHand.Sub(r.Reserved)
}

// InventoryStatus is a display bucket. It never takes part in reservation decisions.
type InventoryStatus string

const (
	InventoryStatusSufficient     InventoryStatus = "SUFFICIENT"
	InventoryStatusNormal         InventoryStatus = "NORMAL"
	InventoryStatusBelowThreshold InventoryStatus = "BELOW_THRESHOLD"
	InventoryStatusLow            InventoryStatus = "LOW"
	InventoryStatusOutOfStock     InventoryStatus = "OUT_OF_STOCK"
)

type InventoryView struct {
	InventoryRecord
	Available decimal.Decimal `json:"available"`
	Status    InventoryStatus `json:"status"`
}

type StockAdjustment struct {
	Delta       decimal.Decimal  `json:"delta"`
	SafetyStock *decimal.Decimal `json:"safety_stock,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}
