package cache

import (
	"context"
	"time"

	"puntoventa/backend/internal/domain"
)

// CatalogCache holds product and combo definitions only. Derived numbers
// such as combo availability are always recomputed from live stock and must
// never be stored here.
type CatalogCache interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, bool, error)
	SetProduct(ctx context.Context, product *domain.Product, ttl time.Duration) error
	GetCombo(ctx context.Context, id string) (*domain.Combo, bool, error)
	SetCombo(ctx context.Context, combo *domain.Combo, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetProduct(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProduct(_ context.Context, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) GetCombo(_ context.Context, _ string) (*domain.Combo, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetCombo(_ context.Context, _ *domain.Combo, _ time.Duration) error {
	return nil
}
