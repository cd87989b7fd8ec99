// Package catalog loads product fixtures for local runs and migrations.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// Load reads a JSON array of products. Products without timestamps get now.
func Load(path string) ([]orders.Product, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ps []orders.Product
	if err := json.Unmarshal(b, &ps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	now := time.Now().UTC()
	for i := range ps {
		if ps[i].ID == "" || ps[i].SellerID == "" {
			return nil, fmt.Errorf("%s: product %d: id and sellerRef are required", path, i)
		}
		if ps[i].Price < 0 || ps[i].Stock < 0 {
			return nil, fmt.Errorf("%s: product %s: negative price or stock", path, ps[i].ID)
		}
		if ps[i].CreatedAt.IsZero() {
			ps[i].CreatedAt = now
		}
		if ps[i].UpdatedAt.IsZero() {
			ps[i].UpdatedAt = ps[i].CreatedAt
		}
	}
	return ps, nil
}
