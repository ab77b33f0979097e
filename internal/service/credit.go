package service

import (
	"context"
	"fmt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

// AvailableCredit is how much the customer may still charge. A positive
// balance extends the limit; a debt eats into it, floored at zero.
func AvailableCredit(customer domain.Customer) int64 {
	available := customer.CreditLimitCents + customer.BalanceCents
	if customer.BalanceCents < 0 && available < 0 {
		return 0
	}
	return available
}

// CheckCredit is the advisory pre-flight for an on-account charge. The
// decision carries a distinct reason per guard; the binding verdict is
// re-evaluated inside the sale commit transaction.
func (s *Service) CheckCredit(ctx context.Context, customerID string, amountCents int64) (domain.CreditDecision, error) {
	if amountCents < 1 {
		return domain.CreditDecision{}, store.ErrInvalidRequest
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CreditDecision{}, err
	}

	available := AvailableCredit(*customer)
	decision := domain.CreditDecision{AvailableCreditCents: available}

	switch {
	case !customer.Active:
		decision.Reason = RejectCustomerInactive
	case !customer.CreditEnabled:
		decision.Reason = RejectCreditDisabled
	case customer.CreditLimitCents == 0:
		decision.Reason = RejectNoCreditLimit
	case amountCents > available:
		decision.Reason = RejectCreditExceeded
		decision.ShortfallCents = amountCents - available
	default:
		decision.Allowed = true
	}
	return decision, nil
}

func creditRejection(decision domain.CreditDecision, customerID string) *PolicyRejection {
	reason := fmt.Sprintf("on-account charge rejected for customer %s: %s", customerID, decision.Reason)
	if decision.Reason == RejectCreditExceeded {
		reason = fmt.Sprintf("on-account charge rejected for customer %s: short by %d cents", customerID, decision.ShortfallCents)
	}
	return reject(decision.Reason, reason)
}
