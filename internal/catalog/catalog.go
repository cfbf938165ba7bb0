// Package catalog maps storefront price ids to product names, sizes and
// per-unit weights. The catalog itself is static data embedded at build time.
package catalog

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/impetus-mx/storefront-api/internal/model"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Size is one purchasable size of a product.
type Size struct {
	Label   string `yaml:"label"`
	Grams   int    `yaml:"grams"`
	PriceID string `yaml:"price_id"`
}

// Product groups the sizes sold under one coffee.
type Product struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Sizes []Size `yaml:"sizes"`
}

// Entry is the flattened lookup record for a single price id.
type Entry struct {
	ProductID   string
	ProductName string
	Size        string
	Grams       int
	PriceID     string
}

// Catalog resolves price ids to catalog entries.
type Catalog struct {
	products  []Product
	byPriceID map[string]Entry
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}
	if len(file.Products) == 0 {
		return nil, eris.New("catalog: no products defined")
	}

	byPriceID := make(map[string]Entry)
	for _, product := range file.Products {
		for _, size := range product.Sizes {
			if size.PriceID == "" {
				return nil, eris.Errorf("catalog: product %s size %s has no price id", product.ID, size.Label)
			}
			if size.Grams <= 0 {
				return nil, eris.Errorf("catalog: product %s size %s has non-positive weight", product.ID, size.Label)
			}
			if _, dup := byPriceID[size.PriceID]; dup {
				return nil, eris.Errorf("catalog: duplicate price id %s", size.PriceID)
			}
			byPriceID[size.PriceID] = Entry{
				ProductID:   product.ID,
				ProductName: product.Name,
				Size:        size.Label,
				Grams:       size.Grams,
				PriceID:     size.PriceID,
			}
		}
	}

	return &Catalog{products: file.Products, byPriceID: byPriceID}, nil
}

// MustLoad parses the embedded catalog and panics on error. The catalog is
// compile-time data, so a failure here is a build defect.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// EntryByPriceID returns the catalog entry for a price id.
func (c *Catalog) EntryByPriceID(priceID string) (Entry, bool) {
	entry, ok := c.byPriceID[priceID]
	return entry, ok
}

// Allows reports whether the price id is sold by this storefront.
func (c *Catalog) Allows(priceID string) bool {
	_, ok := c.byPriceID[priceID]
	return ok
}

// OrderWeightGrams sums grams-per-unit times quantity across the cart.
// It fails on any price id the catalog does not recognize.
func (c *Catalog) OrderWeightGrams(items []model.CartItem) (int, error) {
	total := 0
	for _, item := range items {
		entry, ok := c.byPriceID[item.PriceID]
		if !ok {
			return 0, eris.Errorf("catalog: price not allowed: %s", item.PriceID)
		}
		total += entry.Grams * item.Quantity
	}
	return total, nil
}
