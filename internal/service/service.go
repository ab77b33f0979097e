package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	catalog    cache.CatalogCache
	catalogTTL time.Duration
}

func New(repo store.Repository, catalog cache.CatalogCache, catalogTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 5 * time.Minute
	}

	return &Service{
		repo:       repo,
		catalog:    catalog,
		catalogTTL: catalogTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "unidad"
	}

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.MinStock < 0 || (req.MaxStock > 0 && req.MaxStock < req.MinStock) {
		return domain.Product{}, store.ErrInvalidRequest
	}

	product := domain.Product{
		SKU:            req.SKU,
		Name:           req.Name,
		Unit:           req.Unit,
		SellByFraction: req.SellByFraction,
		MinStock:       req.MinStock,
		MaxStock:       req.MaxStock,
		PriceCents:     req.PriceCents,
		CostCents:      req.CostCents,
		Active:         true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		_, err := s.repo.ReceiveBatch(ctx, domain.InventoryBatch{
			ProductID: created.ID,
			Qty:       req.InitialStock,
			LotCode:   "INIT-" + created.SKU,
		}, domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: created.ID,
			Kind:      domain.MovementEntry,
			Qty:       req.InitialStock,
			Note:      "initial stock",
			Actor:     actor.Username,
		})
		if err != nil {
			return domain.Product{}, err
		}
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.getProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager) {
		return domain.Customer{}, fmt.Errorf("manager role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CreditLimitCents < 0 {
		return domain.Customer{}, store.ErrInvalidRequest
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:             req.Name,
		CreditLimitCents: req.CreditLimitCents,
		CreditEnabled:    req.CreditEnabled,
		Active:           true,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,limit=%d", created.Name, created.CreditLimitCents))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCombo(ctx context.Context, req domain.ComboCreateRequest) (domain.Combo, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager) {
		return domain.Combo{}, fmt.Errorf("manager role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 1 {
		return domain.Combo{}, store.ErrInvalidRequest
	}

	combo := domain.Combo{
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Components: req.Components,
	}
	for _, raw := range []struct {
		value  string
		target **time.Time
	}{
		{req.ActiveFrom, &combo.ActiveFrom},
		{req.ActiveUntil, &combo.ActiveUntil},
	} {
		if raw.value == "" {
			continue
		}
		parsed, err := parseTimestamp(raw.value)
		if err != nil {
			return domain.Combo{}, fmt.Errorf("%w: bad timestamp %q", store.ErrInvalidRequest, raw.value)
		}
		*raw.target = &parsed
	}
	if combo.ActiveFrom != nil && combo.ActiveUntil != nil && combo.ActiveUntil.Before(*combo.ActiveFrom) {
		return domain.Combo{}, store.ErrInvalidRequest
	}

	for _, component := range combo.Components {
		if component.ProductID == "" || component.QtyPerCombo < 1 {
			return domain.Combo{}, store.ErrInvalidRequest
		}
		if _, err := s.repo.GetProduct(ctx, component.ProductID); err != nil {
			return domain.Combo{}, err
		}
	}

	created, err := s.repo.CreateCombo(ctx, combo)
	if err != nil {
		return domain.Combo{}, err
	}

	s.logAudit(ctx, "combo_create", "combo", created.ID, fmt.Sprintf("name=%s,components=%d", created.Name, len(created.Components)))
	return *created, nil
}

func (s *Service) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	return s.repo.ListCombos(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) getProduct(ctx context.Context, id string) (*domain.Product, error) {
	if cached, hit, err := s.catalog.GetProduct(ctx, id); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed for product %s: %v", id, err)
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetProduct(ctx, product, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed for product %s: %v", id, err)
	}
	return product, nil
}

func (s *Service) getCombo(ctx context.Context, id string) (*domain.Combo, error) {
	if cached, hit, err := s.catalog.GetCombo(ctx, id); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed for combo %s: %v", id, err)
	}

	combo, err := s.repo.GetCombo(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetCombo(ctx, combo, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed for combo %s: %v", id, err)
	}
	return combo, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)

	entry := domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func parseTimestamp(value string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func dayBounds(date string) (time.Time, time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad date %q", store.ErrInvalidRequest, date)
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour), nil
}
