package inventory

import (
	"github.com/shopspring/decimal"

	"ms-ordering/internal/models"
)

var (
	lowFactor        = decimal.RequireFromString("0.5")
	sufficientFactor = decimal.NewFromInt(2)
)

// StatusOf buckets available stock against the safety stock for display.
// Reservation decisions never look at it.
func StatusOf(available, safetyStock decimal.Decimal) models.InventoryStatus {
	switch {
	case !available.IsPositive():
		return models.InventoryStatusOutOfStock
	case available.LessThan(safetyStock.Mul(lowFactor)):
		return models.InventoryStatusLow
	case available.LessThan(safetyStock):
		return models.InventoryStatusBelowThreshold
	case available.LessThan(safetyStock.Mul(sufficientFactor)):
		return models.InventoryStatusNormal
	default:
		return models.InventoryStatusSufficient
	}
}

// View decorates a record with its derived fields.
func View(rec models.InventoryRecord) models.InventoryView {
	available := rec.Available()
	return models.InventoryView{
		InventoryRecord: rec,
		Available:       available,
		Status:          StatusOf(available, rec.SafetyStock),
	}
}
