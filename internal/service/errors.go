package service

// Rejection codes returned inside PolicyRejection. Each guard that can turn
// an operation down has its own code so callers can tell the reasons apart.
const (
	RejectCustomerInactive  = "customer_inactive"
	RejectCreditDisabled    = "credit_disabled"
	RejectNoCreditLimit     = "no_credit_limit"
	RejectCreditExceeded    = "credit_exceeded"
	RejectInsufficientStock = "insufficient_stock"
	RejectStockContention   = "stock_contention"
	RejectSaleNotActive     = "sale_not_active"
	RejectTenderNotCash     = "tender_not_reversible"
	RejectWindowExpired     = "cancel_window_expired"
	RejectNotCreator        = "not_creator"
	RejectNoOpenSession     = "no_open_session"
	RejectNotSameDay        = "not_same_day"
)

// PolicyRejection is a business rule saying no. The request was well formed
// and the system is healthy; the operation is simply not permitted.
type PolicyRejection struct {
	Code   string
	Reason string
}

func (e *PolicyRejection) Error() string {
	return e.Reason
}

func reject(code string, reason string) *PolicyRejection {
	return &PolicyRejection{Code: code, Reason: reason}
}
