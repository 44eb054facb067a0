package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrLockTimeout is transient. The same request may be retried.
	ErrLockTimeout         = errors.New("timed out waiting for inventory lock")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrAdjustBelowReserved = errors.New("adjustment would drop on-hand stock below reserved stock")
)

// Shortage describes one order line that cannot be reserved.
type Shortage struct {
	SKUID     string          `json:"sku_id"`
	SKUName   string          `json:"sku_name"`
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Shortage  decimal.Decimal `json:"shortage"`
	Unit      string          `json:"unit"`
}

// InsufficientInventoryError lists every failing line of a reservation
// request, not only the first.
type InsufficientInventoryError struct {
	StoreID   string
	Shortages []Shortage
}

func (e *InsufficientInventoryError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (available %s, required %s)", s.SKUID, s.Available, s.Required))
	}
	return fmt.Sprintf("insufficient inventory at store %s: %s", e.StoreID, strings.Join(parts, ", "))
}

func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}
