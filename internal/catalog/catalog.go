// Package catalog resolves SKUs into the name, unit and price that get
// snapshotted into an order line.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSKU  = errors.New("unknown sku")
	ErrUnavailable = errors.New("catalog unavailable")
)

type Product struct {
	SKUID     string          `json:"sku_id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Catalog looks products up by SKU. Unknown SKUs return ErrUnknownSKU.
type Catalog interface {
	Lookup(ctx context.Context, skuID string) (*Product, error)
}

// StaticCatalog is an in-memory catalog for local runs and tests.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewStaticCatalog(products ...Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.SKUID] = p
	}
	return c
}

// LoadFile reads a JSON array of products, e.g. a menu export.
func LoadFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}
	for i, p := range products {
		if p.SKUID == "" || p.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("catalog seed %s: product %d is invalid", path, i+1)
		}
	}
	return NewStaticCatalog(products...), nil
}

func (c *StaticCatalog) Put(p Product) {
	c.mu.Lock()
	c.products[p.SKUID] = p
	c.mu.Unlock()
}

func (c *StaticCatalog) Lookup(_ context.Context, skuID string) (*Product, error) {
	c.mu.RLock()
	p, ok := c.products[skuID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSKU, skuID)
	}
	return &p, nil
}
