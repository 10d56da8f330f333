package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukerupert/payline/internal/model"
)

var (
	ErrProductNotFound    = errors.New("product not found in catalog")
	ErrPriceNotConfigured = errors.New("no price configured for frequency")
)

// Product is one purchasable plan with per-frequency provider price ids.
type Product struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Prices    map[string]string `json:"prices"`
	TrialDays int               `json:"trial_days"`
}

// PriceFor returns the provider price id for a billing frequency.
func (p *Product) PriceFor(freq model.Frequency) (string, error) {
	id, ok := p.Prices[string(freq)]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: product %s, frequency %s", ErrPriceNotConfigured, p.ID, freq)
	}
	return id, nil
}

// Catalog is the product configuration shared by the intent service and the
// processor adapters. It is loaded once at startup and read-only thereafter.
type Catalog struct {
	Products []Product `json:"products"`
}

// Load reads a catalog JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog JSON.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Products) == 0 {
		return nil, fmt.Errorf("parse catalog: no products defined")
	}
	return &c, nil
}

// Product looks up a product by id.
func (c *Catalog) Product(id string) (*Product, error) {
	for i := range c.Products {
		if c.Products[i].ID == id {
			return &c.Products[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
}

// ProductByPrice looks up a product by one of its provider price ids.
func (c *Catalog) ProductByPrice(priceID string) (*Product, model.Frequency, bool) {
	for i := range c.Products {
		for freq, id := range c.Products[i].Prices {
			if id == priceID {
				return &c.Products[i], model.Frequency(freq), true
			}
		}
	}
	return nil, "", false
}
