package service

import (
	"context"
	"fmt"
	"strings"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

func (s *Service) TotalStock(ctx context.Context, productID string) (int, error) {
	return s.repo.TotalStock(ctx, productID)
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.InventoryBatch, error) {
	return s.repo.ListBatches(ctx, productID)
}

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListMovements(ctx, productID, limit)
}

// ReceiveBatch records a replenishment. Every entry creates a fresh batch;
// existing batches are never topped up, so FIFO ordering stays truthful.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.InventoryBatch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleCashier {
		return domain.InventoryBatch{}, fmt.Errorf("manager role required")
	}

	if req.ProductID == "" || req.Qty < 1 {
		return domain.InventoryBatch{}, store.ErrInvalidRequest
	}

	batch := domain.InventoryBatch{
		ProductID:  req.ProductID,
		Qty:        req.Qty,
		LotCode:    strings.TrimSpace(req.LotCode),
		SupplierID: strings.TrimSpace(req.SupplierID),
	}
	if req.ExpiresAt != "" {
		expires, err := parseTimestamp(req.ExpiresAt)
		if err != nil {
			return domain.InventoryBatch{}, fmt.Errorf("%w: bad expiry %q", store.ErrInvalidRequest, req.ExpiresAt)
		}
		batch.ExpiresAt = &expires
	}

	created, err := s.repo.ReceiveBatch(ctx, batch, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: req.ProductID,
		Kind:      domain.MovementEntry,
		Qty:       req.Qty,
		Note:      strings.TrimSpace(req.Note),
		Actor:     actor.Username,
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	s.logAudit(ctx, "stock_receive", "product", req.ProductID, fmt.Sprintf("qty=%d,lot=%s", req.Qty, created.LotCode))
	return *created, nil
}

func (s *Service) RecordWaste(ctx context.Context, req domain.WasteRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleCashier {
		return fmt.Errorf("manager role required")
	}

	if req.ProductID == "" || req.Qty < 1 || strings.TrimSpace(req.Note) == "" {
		return store.ErrInvalidRequest
	}

	err := s.repo.DepleteStock(ctx, req.ProductID, req.Qty, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: req.ProductID,
		Kind:      domain.MovementWaste,
		Qty:       req.Qty,
		Note:      strings.TrimSpace(req.Note),
		Actor:     actor.Username,
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "stock_waste", "product", req.ProductID, fmt.Sprintf("qty=%d", req.Qty))
	return nil
}

// ReconcileStock moves a product's total to the counted target. The movement
// row records the requested target quantity, not the applied delta; the
// response spells out which of the two directions (or neither) happened.
func (s *Service) ReconcileStock(ctx context.Context, req domain.ReconcileRequest) (domain.ReconcileResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleCashier {
		return domain.ReconcileResponse{}, fmt.Errorf("manager role required")
	}

	if req.ProductID == "" || req.TargetQty < 0 {
		return domain.ReconcileResponse{}, store.ErrInvalidRequest
	}

	resp, err := s.repo.ReconcileStock(ctx, req.ProductID, req.TargetQty, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: req.ProductID,
		Kind:      domain.MovementAdjustment,
		Qty:       req.TargetQty,
		Note:      strings.TrimSpace(req.Note),
		Actor:     actor.Username,
	})
	if err != nil {
		return domain.ReconcileResponse{}, err
	}

	s.logAudit(ctx, "stock_reconcile", "product", req.ProductID, fmt.Sprintf("target=%d,outcome=%s,delta=%d", resp.TargetQty, resp.Outcome, resp.DeltaQty))
	return *resp, nil
}
