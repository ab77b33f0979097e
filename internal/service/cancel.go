package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

const cancelWindow = 24 * time.Hour

// CancelSale reverses a committed sale. Guards run in order and each failure
// carries its own rejection code; on success the store flips the sale to
// cancelled, appends the cancellation record and replenishes every depleted
// product in one transaction.
func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.CancelSaleRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: cancellation reason required", store.ErrInvalidRequest)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if sale.Status != domain.SaleStatusActive {
		return domain.SaleResponse{}, reject(RejectSaleNotActive, fmt.Sprintf("sale %d is not active", sale.Number))
	}
	switch sale.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
	default:
		return domain.SaleResponse{}, reject(RejectTenderNotCash, fmt.Sprintf("sales paid by %s cannot be cancelled", sale.PaymentMethod))
	}

	now := time.Now().UTC()
	elevated := actor.Role == domain.RoleManager || actor.Role == domain.RoleAdmin
	if elevated {
		if now.Sub(sale.CreatedAt) > cancelWindow {
			return domain.SaleResponse{}, reject(RejectWindowExpired, fmt.Sprintf("sale %d is older than 24 hours", sale.Number))
		}
	} else {
		if sale.CreatedBy != actor.Username {
			return domain.SaleResponse{}, reject(RejectNotCreator, "only the selling cashier may cancel")
		}
		if _, err := s.repo.GetOpenSessionByActor(ctx, actor.Username); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SaleResponse{}, reject(RejectNoOpenSession, "an open cash session is required to cancel")
			}
			return domain.SaleResponse{}, err
		}
		saleDay := sale.CreatedAt.UTC().Format("2006-01-02")
		if saleDay != now.Format("2006-01-02") {
			return domain.SaleResponse{}, reject(RejectNotSameDay, fmt.Sprintf("sale %d was created on %s", sale.Number, saleDay))
		}
	}

	// Restock quantities come from the sale's own movements, not from
	// re-expanding combo definitions that may have changed since.
	restock, err := s.repo.SaleDepletions(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	record := domain.CancellationRecord{
		SaleID:             saleID,
		CancelledBy:        actor.Username,
		Role:               actor.Role,
		Reason:             strings.TrimSpace(req.Reason),
		OriginalTotalCents: sale.TotalCents,
	}

	cancelled, err := s.repo.CancelSale(ctx, saleID, record, restock)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", saleID, fmt.Sprintf("number=%d,role=%s,reason=%s", cancelled.Number, actor.Role, record.Reason))
	return domain.SaleResponse{Sale: *cancelled}, nil
}
