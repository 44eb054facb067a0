package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/metrics"
)

const breakerName = "catalog"

// HTTPCatalog asks the catalog service for GET {base}/api/catalog/skus/{sku}.
// Calls go through a circuit breaker so a failing catalog fails orders fast.
type HTTPCatalog struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

type productEnvelope struct {
	Data Product `json:"data"`
}

func NewHTTPCatalog(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPCatalog {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0). // the breaker decides, not resty
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("order-service", name).Set(float64(to))
			log.Warn("CATALOG", fmt.Sprintf("Circuit breaker %s: %s -> %s", name, from, to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("order-service", breakerName).Set(0)

	return &HTTPCatalog{client: client, breaker: breaker, logger: log}
}

func (c *HTTPCatalog) Lookup(ctx context.Context, skuID string) (*Product, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var body productEnvelope
		resp, err := c.client.R().
			SetContext(ctx).
			SetPathParam("sku", skuID).
			SetResult(&body).
			Get("/api/catalog/skus/{sku}")
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			// Not a catalog failure; keep it out of the breaker counts.
			return (*Product)(nil), nil
		case resp.IsError():
			return nil, fmt.Errorf("catalog returned %s", resp.Status())
		}
		p := body.Data
		if p.SKUID == "" {
			p.SKUID = skuID
		}
		return &p, nil
	})
	if err != nil {
		c.logger.Error("CATALOG", fmt.Sprintf("Lookup %s failed: %v", skuID, err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p := result.(*Product)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSKU, skuID)
	}
	return p, nil
}
