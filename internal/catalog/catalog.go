// Package catalog maps product identifiers to their name, price, and
// expected per-unit weight. The catalog is loaded once at startup from a
// YAML file; the correlator only reads it.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Product describes one catalog entry. WeightGrams is the expected
// per-unit weight used for tolerance checks; zero means unknown.
type Product struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	WeightGrams float64 `yaml:"weight_g"`
}

// Catalog is an immutable product lookup table.
type Catalog struct {
	byID map[string]Product
}

// New builds a catalog from a product list. Duplicate IDs are rejected.
func New(products []Product) (*Catalog, error) {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %q has empty id", p.Name)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &Catalog{byID: byID}, nil
}

// Load reads a catalog YAML file. Unknown fields are rejected so typos in
// fixture files fail loudly instead of silently dropping data.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var products []Product
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&products); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return New(products)
}

// Builtin returns the demo catalog used by simulation runs when no
// catalog file is given.
func Builtin() *Catalog {
	c, err := New([]Product{
		{ID: "9780201379624", Name: "Design Patterns", Price: 49.99, WeightGrams: 950},
		{ID: "7501234567890", Name: "Apple", Price: 1.99, WeightGrams: 200},
		{ID: "5901234123457", Name: "Milk 1L", Price: 3.49, WeightGrams: 1000},
	})
	if err != nil {
		panic(err) // static data, cannot fail
	}
	return c
}

// Lookup returns the product for an ID. ok is false for unknown IDs; an
// unknown product is still scannable, it just has no expected weight.
func (c *Catalog) Lookup(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// Products returns all entries sorted by ID, so iteration order is
// stable for simulations.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
