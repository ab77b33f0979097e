package domain

import "time"

type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	SellByFraction bool      `json:"sell_by_fraction"`
	MinStock       int       `json:"min_stock"`
	MaxStock       int       `json:"max_stock"`
	PriceCents     int64     `json:"price_cents"`
	CostCents      int64     `json:"cost_cents"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Unit           string `json:"unit"`
	SellByFraction bool   `json:"sell_by_fraction"`
	MinStock       int    `json:"min_stock"`
	MaxStock       int    `json:"max_stock"`
	PriceCents     int64  `json:"price_cents"`
	CostCents      int64  `json:"cost_cents"`
	InitialStock   int    `json:"initial_stock"`
}

// InventoryBatch is a dated quantity of one product. Depletion consumes
// batches oldest first, ordered by (received_at, id). A batch quantity only
// ever decreases; replenishment always creates a new batch.
type InventoryBatch struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Qty        int        `json:"qty"`
	LotCode    string     `json:"lot_code,omitempty"`
	SupplierID string     `json:"supplier_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// StockMovement is the append-only audit record of operator intent. Qty is
// what was requested, which for reconciliations differs from the ledger
// delta actually applied.
type StockMovement struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Kind      string    `json:"kind"`
	Qty       int       `json:"qty"`
	Note      string    `json:"note,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MovementEntry      = "entry"
	MovementExit       = "exit"
	MovementAdjustment = "adjustment"
	MovementWaste      = "waste"
	MovementSale       = "sale"
)

type BatchReceiveRequest struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	LotCode    string `json:"lot_code,omitempty"`
	SupplierID string `json:"supplier_id,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	Note       string `json:"note,omitempty"`
}

type WasteRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Note      string `json:"note"`
}

type ReconcileRequest struct {
	ProductID string `json:"product_id"`
	TargetQty int    `json:"target_qty"`
	Note      string `json:"note"`
}

const (
	ReconcileNoChange  = "no_change"
	ReconcileIncreased = "increased"
	ReconcileDecreased = "decreased"
)

type ReconcileResponse struct {
	ProductID   string `json:"product_id"`
	Outcome     string `json:"outcome"`
	PreviousQty int    `json:"previous_qty"`
	TargetQty   int    `json:"target_qty"`
	DeltaQty    int    `json:"delta_qty"`
}

type ComboComponent struct {
	ProductID   string `json:"product_id"`
	QtyPerCombo int    `json:"qty_per_combo"`
}

// Combo is a fixed bundle of component products sold at one bundle price.
// Availability is always derived from live component stock, never stored.
type Combo struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	PriceCents  int64            `json:"price_cents"`
	ActiveFrom  *time.Time       `json:"active_from,omitempty"`
	ActiveUntil *time.Time       `json:"active_until,omitempty"`
	Components  []ComboComponent `json:"components"`
	CreatedAt   time.Time        `json:"created_at"`
}

type ComboCreateRequest struct {
	Name        string           `json:"name"`
	PriceCents  int64            `json:"price_cents"`
	ActiveFrom  string           `json:"active_from,omitempty"`
	ActiveUntil string           `json:"active_until,omitempty"`
	Components  []ComboComponent `json:"components"`
}

type ComboAvailabilityResponse struct {
	ComboID        string `json:"combo_id"`
	MaxAssemblable int    `json:"max_assemblable"`
	Limiting       string `json:"limiting_product_id,omitempty"`
}

// Customer balance is signed: positive means the customer holds credit with
// the store, negative means the customer owes.
type Customer struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreditLimitCents int64     `json:"credit_limit_cents"`
	BalanceCents     int64     `json:"balance_cents"`
	CreditEnabled    bool      `json:"credit_enabled"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name             string `json:"name"`
	CreditLimitCents int64  `json:"credit_limit_cents"`
	CreditEnabled    bool   `json:"credit_enabled"`
}

type CreditCheckRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type CreditDecision struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	AvailableCreditCents int64  `json:"available_credit_cents"`
	ShortfallCents       int64  `json:"shortfall_cents,omitempty"`
}

type SaleLine struct {
	ProductID      string `json:"product_id,omitempty"`
	ComboID        string `json:"combo_id,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SalePayment struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SaleRequest struct {
	CustomerID      string        `json:"customer_id,omitempty"`
	PaymentMethod   string        `json:"payment_method"`
	DiscountPercent float64       `json:"discount_percent"`
	Lines           []SaleLine    `json:"lines"`
	Payments        []SalePayment `json:"payments,omitempty"`
}

type Sale struct {
	ID            string        `json:"id"`
	Number        int64         `json:"number"`
	CustomerID    string        `json:"customer_id,omitempty"`
	PaymentMethod string        `json:"payment_method"`
	SubtotalCents int64         `json:"subtotal_cents"`
	DiscountCents int64         `json:"discount_cents"`
	TotalCents    int64         `json:"total_cents"`
	PaidCents     int64         `json:"paid_cents"`
	PendingCents  int64         `json:"pending_cents"`
	PaymentStatus string        `json:"payment_status"`
	Status        string        `json:"status"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	Lines         []SaleLine    `json:"lines"`
	Payments      []SalePayment `json:"payments,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

const (
	SaleStatusActive    = "active"
	SaleStatusCancelled = "cancelled"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
)

const (
	PaymentCash      = "cash"
	PaymentCard      = "card"
	PaymentTransfer  = "transfer"
	PaymentOnAccount = "on_account"
	PaymentSplit     = "split"
)

// ProductQty is one product's expanded quantity inside a sale commit or a
// cancellation reversal (combo lines unrolled into their components).
type ProductQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason"`
}

// CancellationRecord captures who reversed a sale and the effective role
// the decision was made under. Append-only, never mutated.
type CancellationRecord struct {
	ID                 string    `json:"id"`
	SaleID             string    `json:"sale_id"`
	CancelledBy        string    `json:"cancelled_by"`
	Role               string    `json:"role"`
	Reason             string    `json:"reason"`
	OriginalTotalCents int64     `json:"original_total_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

type DenominationCount struct {
	DenominationCents int64 `json:"denomination_cents"`
	Count             int   `json:"count"`
}

// CashSession is one cashier's accountable shift. Exactly one open session
// per actor is a hard invariant enforced by the store, not a query
// convention. ExpectedCents is intentionally only the opening float; cash
// taken in during the shift is reconciled by external reporting.
type CashSession struct {
	ID              string              `json:"id"`
	Cashier         string              `json:"cashier"`
	OpeningCents    int64               `json:"opening_cents"`
	Status          string              `json:"status"`
	OpenedAt        time.Time           `json:"opened_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
	Counts          []DenominationCount `json:"counts,omitempty"`
	CountedCents    int64               `json:"counted_cents"`
	ExpectedCents   int64               `json:"expected_cents"`
	DifferenceCents int64               `json:"difference_cents"`
}

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

type SessionOpenRequest struct {
	OpeningCents int64 `json:"opening_cents"`
}

type DenominationCountRequest struct {
	SessionID         string `json:"session_id"`
	DenominationCents int64  `json:"denomination_cents"`
	Count             int    `json:"count"`
}

type SessionResponse struct {
	Session CashSession `json:"session"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
