// Package catalog holds read-only snapshots of the registered identities.
package catalog

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facegrid/internal/types"
)

// Loader reads every persisted identity record.
type Loader interface {
	LoadAll(ctx context.Context) ([]types.IdentityRecord, error)
}

// Catalog is an ordered, immutable set of identity records. It is safe for concurrent reads.
type Catalog struct {
	records []types.IdentityRecord
}

// New builds a snapshot; records and their embeddings are copied.
func New(records []types.IdentityRecord) *Catalog {
	c := &Catalog{records: make([]types.IdentityRecord, len(records))}
	for i, r := range records {
		c.records[i] = types.IdentityRecord{
			Name:      r.Name,
			Embedding: append([]float64(nil), r.Embedding...),
		}
	}
	return c
}

// Empty returns a catalog without records.
func Empty() *Catalog {
	return &Catalog{}
}

// Load takes a snapshot of the store. On failure it returns an empty catalog together
// with an error wrapping types.ErrStoreUnavailable, so tracking can continue with every
// face reported as unknown.
func Load(ctx context.Context, l Loader) (*Catalog, error) {
	if l == nil {
		return Empty(), fmt.Errorf("%w: no store configured", types.ErrStoreUnavailable)
	}
	records, err := l.LoadAll(ctx)
	if err != nil {
		return Empty(), fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return &Catalog{records: records}, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Record returns the i-th record. The embedding must not be modified.
func (c *Catalog) Record(i int) types.IdentityRecord {
	return c.records[i]
}

// Names returns the distinct names in first-appearance order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, r := range c.records {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}
