package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

// ProductStore is an in-memory product table with a unique normalized-SKU key.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
	nextID   int64
	clock    catalog.Clock
}

// NewProductStore constructs a ProductStore. A nil clock uses wall time.
func NewProductStore(clock catalog.Clock) *ProductStore {
	if clock == nil {
		clock = system.New()
	}
	return &ProductStore{
		products: make(map[string]catalog.Product),
		clock:    clock,
	}
}

// Upsert creates the product or updates the supplied fields of the existing one.
func (s *ProductStore) Upsert(_ context.Context, write catalog.ProductWrite) (catalog.Product, bool, error) {
	sku := catalog.NormalizeSKU(write.SKU)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[sku]
	if !ok {
		s.nextID++
		p := catalog.Product{
			ID:          s.nextID,
			SKU:         sku,
			Name:        write.Name,
			Description: cloneString(write.Description),
			Price:       cloneFloat(write.Price),
			Stock:       cloneInt(write.Stock),
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if write.Active != nil {
			p.Active = *write.Active
		}
		s.products[sku] = p
		return cloneProduct(p), true, nil
	}

	existing.Name = write.Name
	if write.Description != nil {
		existing.Description = cloneString(write.Description)
	}
	if write.Price != nil {
		existing.Price = cloneFloat(write.Price)
	}
	if write.Stock != nil {
		existing.Stock = cloneInt(write.Stock)
	}
	if write.Active != nil {
		existing.Active = *write.Active
	}
	existing.UpdatedAt = now
	s.products[sku] = existing
	return cloneProduct(existing), false, nil
}

// Get returns the product for the SKU or catalog.ErrNotFound.
func (s *ProductStore) Get(_ context.Context, sku string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[catalog.NormalizeSKU(sku)]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return cloneProduct(p), nil
}

// Delete removes the product and returns its last state.
func (s *ProductStore) Delete(_ context.Context, sku string) (catalog.Product, error) {
	key := catalog.NormalizeSKU(sku)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[key]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	delete(s.products, key)
	return p, nil
}

// Count returns the number of stored products.
func (s *ProductStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func cloneProduct(p catalog.Product) catalog.Product {
	p.Description = cloneString(p.Description)
	p.Price = cloneFloat(p.Price)
	p.Stock = cloneInt(p.Stock)
	return p
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
