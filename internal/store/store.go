package store

import (
	"context"
	"errors"
	"time"

	"puntoventa/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCreditExceeded    = errors.New("credit exceeded")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrInvariant         = errors.New("invariant violation")
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type StockRepository interface {
	// TotalStock sums surviving batch quantities; never negative.
	TotalStock(ctx context.Context, productID string) (int, error)
	BatchTotals(ctx context.Context, productIDs []string) (map[string]int, error)
	ListBatches(ctx context.Context, productID string) ([]domain.InventoryBatch, error)
	// ReceiveBatch creates a new batch and appends the movement atomically.
	ReceiveBatch(ctx context.Context, batch domain.InventoryBatch, movement domain.StockMovement) (*domain.InventoryBatch, error)
	// DepleteStock walks batches in FIFO order inside one transaction and
	// appends the movement. Returns ErrInsufficientStock without mutating
	// anything when availability is short.
	DepleteStock(ctx context.Context, productID string, qty int, movement domain.StockMovement) error
	// ReconcileStock moves the product's total to targetQty and appends one
	// adjustment movement carrying the requested target, whatever the
	// derived ledger effect was.
	ReconcileStock(ctx context.Context, productID string, targetQty int, movement domain.StockMovement) (*domain.ReconcileResponse, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
}

type ComboRepository interface {
	CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error)
	GetCombo(ctx context.Context, id string) (*domain.Combo, error)
	ListCombos(ctx context.Context) ([]domain.Combo, error)
}

type CustomerRepository interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

type SaleRepository interface {
	// CommitSale performs the whole atomic commit: lock stock for every
	// expanded product, re-verify availability, FIFO-deplete, append one
	// sale movement per product, persist the sale header, lines and
	// tenders, and debit the customer balance for on-account sales. The
	// sale number is drawn from the store's sequence inside the same
	// transaction. Nothing is visible on failure.
	CommitSale(ctx context.Context, sale domain.Sale, depletions []domain.ProductQty) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	// CancelSale marks the sale cancelled, appends the cancellation record,
	// replenishes one batch per restocked product and appends the entry
	// movements, all in one transaction.
	CancelSale(ctx context.Context, saleID string, record domain.CancellationRecord, restock []domain.ProductQty) (*domain.Sale, error)
	// SaleDepletions returns the per-product quantities the sale's commit
	// actually depleted, reconstructed from its sale movements.
	SaleDepletions(ctx context.Context, saleID string) ([]domain.ProductQty, error)
}

type CashSessionRepository interface {
	// OpenCashSession returns ErrInvariant when the actor already holds an
	// open session.
	OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	GetOpenSessionByActor(ctx context.Context, actor string) (*domain.CashSession, error)
	UpsertDenominationCount(ctx context.Context, sessionID string, denominationCents int64, count int) error
	// CloseCashSession transitions open → closed with the computed totals;
	// ErrInvariant when the session is not open.
	CloseCashSession(ctx context.Context, sessionID string, countedCents int64, expectedCents int64, differenceCents int64, closedAt time.Time) (*domain.CashSession, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	ProductRepository
	StockRepository
	ComboRepository
	CustomerRepository
	SaleRepository
	CashSessionRepository
	UserRepository
	AuditRepository
}
