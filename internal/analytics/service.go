package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-ordering/internal/models"
	"ms-ordering/internal/utils"
)

// MaxRangeDays caps one analytics request.
const MaxRangeDays = 92

var ErrInvalidRange = errors.New("invalid date range")

// Service handles analytics operations
type Service struct {
	db       *DB
	location *time.Location
}

// NewService creates a new analytics service. Days are cut in loc.
func NewService(db bun.IDB, loc *time.Location) *Service {
	return &Service{db: NewDB(db), location: loc}
}

// StoreAnalytics aggregates a store's orders over a range of business dates.
// Revenue counts orders that were paid and not cancelled.
type StoreAnalytics struct {
	StoreID         string                     `json:"store_id"`
	From            string                     `json:"from"`
	To              string                     `json:"to"`
	TotalOrders     int                        `json:"total_orders"`
	PaidOrders      int                        `json:"paid_orders"`
	CancelledOrders int                        `json:"cancelled_orders"`
	Revenue         decimal.Decimal            `json:"revenue"`
	StatusCounts    map[models.OrderStatus]int `json:"status_counts"`
	DailySales      []DailySalesMetrics        `json:"daily_sales"`
	TopSKUs         []SKUSales                 `json:"top_skus"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date          string          `json:"date"`
	Orders        int             `json:"orders"`
	Revenue       decimal.Decimal `json:"revenue"`
	TicketsIssued int             `json:"tickets_issued"`
}

type SKUSales struct {
	SKUID    string          `json:"sku_id"`
	SKUName  string          `json:"sku_name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// ParseRange validates inclusive YYYY-MM-DD bounds. Empty bounds default to
// today.
func (s *Service) ParseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	today := utils.BusinessDate(now, s.location, utils.DateLayout)
	if from == "" {
		from = today
	}
	if to == "" {
		to = today
	}
	start, err := time.ParseInLocation(utils.DateLayout, from, s.location)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Join(ErrInvalidRange, err)
	}
	end, err := time.ParseInLocation(utils.DateLayout, to, s.location)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Join(ErrInvalidRange, err)
	}
	if end.Before(start) || end.Sub(start) > MaxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return start, end, nil
}

// StoreSales returns the sales summary for the inclusive date range.
func (s *Service) StoreSales(ctx context.Context, storeID string, start, end time.Time) (*StoreAnalytics, error) {
	fromDate := start.Format(utils.DateLayout)
	toDate := end.Format(utils.DateLayout)

	orders, err := s.db.OrdersBetween(ctx, storeID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	issued, err := s.db.TicketsIssued(ctx, storeID, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	result := &StoreAnalytics{
		StoreID:      storeID,
		From:         fromDate,
		To:           toDate,
		Revenue:      decimal.Zero,
		StatusCounts: make(map[models.OrderStatus]int),
	}

	daily := make(map[string]*DailySalesMetrics)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(utils.DateLayout)
		daily[date] = &DailySalesMetrics{Date: date, Revenue: decimal.Zero, TicketsIssued: issued[date]}
	}

	skus := make(map[string]*SKUSales)
	for _, o := range orders {
		result.TotalOrders++
		result.StatusCounts[o.Status]++
		if o.Status == models.OrderStatusCancelled {
			result.CancelledOrders++
			continue
		}

		day := daily[utils.BusinessDate(o.CreatedAt, s.location, utils.DateLayout)]
		if day != nil {
			day.Orders++
		}
		if o.PaidAt == nil {
			continue
		}

		result.PaidOrders++
		result.Revenue = result.Revenue.Add(o.TotalPrice)
		if day != nil {
			day.Revenue = day.Revenue.Add(o.TotalPrice)
		}
		for _, item := range o.Items {
			sku, ok := skus[item.SKUID]
			if !ok {
				sku = &SKUSales{SKUID: item.SKUID, SKUName: item.SKUName, Unit: item.Unit}
				skus[item.SKUID] = sku
			}
			sku.Quantity = sku.Quantity.Add(item.Quantity)
			sku.Revenue = sku.Revenue.Add(item.LineTotal)
		}
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		result.DailySales = append(result.DailySales, *daily[d.Format(utils.DateLayout)])
	}

	result.TopSKUs = make([]SKUSales, 0, len(skus))
	for _, sku := range skus {
		result.TopSKUs = append(result.TopSKUs, *sku)
	}
	sort.Slice(result.TopSKUs, func(i, j int) bool {
		a, b := result.TopSKUs[i], result.TopSKUs[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.SKUID < b.SKUID
	})
	return result, nil
}
