package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

const commitAttempts = 3

// CommitSale is the single entry point for selling. It expands combo lines
// into component quantities, reprices the cart from the request's line
// prices, runs the credit policy for on-account charges, and hands the whole
// plan to the store for one atomic commit. Serialization conflicts are
// retried a bounded number of times with a fresh plan each attempt.
func (s *Service) CommitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}

	if err := validateSaleRequest(req); err != nil {
		return domain.SaleResponse{}, err
	}

	depletions, err := s.expandLines(ctx, req.Lines)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	// A 100% discount yields a zero total and is a valid sale; only a
	// negative total would be malformed.
	totals := PriceCart(req.Lines, req.DiscountPercent)
	if totals.TotalCents < 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: total must not be negative", store.ErrInvalidRequest)
	}

	sale := domain.Sale{
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		TotalCents:    totals.TotalCents,
		PaidCents:     totals.TotalCents,
		PendingCents:  0,
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedBy:     actor.Username,
		Lines:         req.Lines,
	}

	switch req.PaymentMethod {
	case domain.PaymentOnAccount:
		// A fully discounted sale charges nothing, so there is no credit
		// decision to make and nothing left pending.
		if totals.TotalCents > 0 {
			decision, err := s.CheckCredit(ctx, req.CustomerID, totals.TotalCents)
			if err != nil {
				return domain.SaleResponse{}, err
			}
			if !decision.Allowed {
				return domain.SaleResponse{}, creditRejection(decision, req.CustomerID)
			}
			sale.PaidCents = 0
			sale.PendingCents = totals.TotalCents
			sale.PaymentStatus = domain.PaymentStatusPending
		}
	case domain.PaymentSplit:
		if err := validateTenders(req.Payments, totals.TotalCents); err != nil {
			return domain.SaleResponse{}, err
		}
		sale.Payments = req.Payments
	default:
		sale.Payments = []domain.SalePayment{{Method: req.PaymentMethod, AmountCents: totals.TotalCents}}
	}

	var committed *domain.Sale
	for attempt := 1; ; attempt++ {
		committed, err = s.repo.CommitSale(ctx, sale, depletions)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConflict) && attempt < commitAttempts {
			continue
		}
		switch {
		case errors.Is(err, store.ErrInsufficientStock):
			return domain.SaleResponse{}, reject(RejectInsufficientStock, err.Error())
		case errors.Is(err, store.ErrCreditExceeded):
			return domain.SaleResponse{}, reject(RejectCreditExceeded, fmt.Sprintf("on-account charge rejected for customer %s", req.CustomerID))
		case errors.Is(err, store.ErrConflict):
			return domain.SaleResponse{}, reject(RejectStockContention, fmt.Sprintf("could not commit after %d attempts, the register is contended, try again", commitAttempts))
		default:
			return domain.SaleResponse{}, err
		}
	}

	s.logAudit(ctx, "sale_commit", "sale", committed.ID, fmt.Sprintf("number=%d,total=%d,method=%s", committed.Number, committed.TotalCents, committed.PaymentMethod))
	return domain.SaleResponse{Sale: *committed}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string, limit int) ([]domain.Sale, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

// expandLines unrolls combo lines into component product quantities and
// merges them with direct product lines touching the same product.
func (s *Service) expandLines(ctx context.Context, lines []domain.SaleLine) ([]domain.ProductQty, error) {
	perProduct := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	add := func(productID string, qty int) {
		if _, seen := perProduct[productID]; !seen {
			order = append(order, productID)
		}
		perProduct[productID] += qty
	}

	directIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case line.ProductID != "":
			directIDs = append(directIDs, line.ProductID)
			add(line.ProductID, line.Qty)
		case line.ComboID != "":
			combo, err := s.getCombo(ctx, line.ComboID)
			if err != nil {
				return nil, err
			}
			if len(combo.Components) == 0 {
				return nil, fmt.Errorf("%w: combo %s has no components", store.ErrInvalidRequest, combo.ID)
			}
			if !comboActiveAt(combo, time.Now().UTC()) {
				return nil, fmt.Errorf("%w: combo %s is outside its active window", store.ErrInvalidRequest, combo.ID)
			}
			for _, component := range combo.Components {
				add(component.ProductID, component.QtyPerCombo*line.Qty)
			}
		}
	}

	if len(directIDs) > 0 {
		known, err := s.repo.GetProducts(ctx, directIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range directIDs {
			if _, exists := known[id]; !exists {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
			}
		}
	}

	depletions := make([]domain.ProductQty, 0, len(order))
	for _, productID := range order {
		depletions = append(depletions, domain.ProductQty{ProductID: productID, Qty: perProduct[productID]})
	}
	return depletions, nil
}

func validateSaleRequest(req domain.SaleRequest) error {
	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentSplit:
	case domain.PaymentOnAccount:
		if req.CustomerID == "" {
			return fmt.Errorf("%w: on-account sale requires a customer", store.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidRequest, req.PaymentMethod)
	}

	if len(req.Lines) == 0 {
		return fmt.Errorf("%w: sale needs at least one line", store.ErrInvalidRequest)
	}
	for _, line := range req.Lines {
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return store.ErrInvalidRequest
		}
		if (line.ProductID == "") == (line.ComboID == "") {
			return fmt.Errorf("%w: line must reference exactly one of product or combo", store.ErrInvalidRequest)
		}
	}
	return nil
}

func validateTenders(payments []domain.SalePayment, totalCents int64) error {
	if len(payments) < 2 {
		return fmt.Errorf("%w: split sale needs at least two tenders", store.ErrInvalidRequest)
	}
	sum := int64(0)
	for _, payment := range payments {
		switch payment.Method {
		case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
		default:
			return fmt.Errorf("%w: tender method %q not allowed in a split", store.ErrInvalidRequest, payment.Method)
		}
		if payment.AmountCents < 1 {
			return store.ErrInvalidRequest
		}
		sum += payment.AmountCents
	}
	if sum != totalCents {
		return fmt.Errorf("%w: tenders sum to %d, total is %d", store.ErrInvalidRequest, sum, totalCents)
	}
	return nil
}
