package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"puntoventa/backend/internal/domain"
)

// Runs only against a disposable database, e.g.
// TEST_DATABASE_URL=postgres://localhost:5432/puntoventa_test go test ./internal/store/postgres/
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIntegrationStockLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		SKU:        "ITEST-" + time.Now().UTC().Format("20060102150405.000"),
		Name:       "Producto Integracion",
		Unit:       "unidad",
		PriceCents: 100000,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := s.ReceiveBatch(ctx, domain.InventoryBatch{
		ProductID: product.ID, Qty: 25, LotCode: "ITEST",
	}, domain.StockMovement{
		ProductID: product.ID, Kind: domain.MovementEntry, Qty: 25, Actor: "itest",
	}); err != nil {
		t.Fatalf("receive batch: %v", err)
	}

	total, err := s.TotalStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 25 {
		t.Fatalf("expected 25, got %d", total)
	}

	resp, err := s.ReconcileStock(ctx, product.ID, 20, domain.StockMovement{
		ProductID: product.ID, Kind: domain.MovementAdjustment, Qty: 20, Actor: "itest",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if resp.Outcome != domain.ReconcileDecreased || resp.DeltaQty != -5 {
		t.Fatalf("unexpected reconcile response %+v", resp)
	}

	total, err = s.TotalStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 20 {
		t.Fatalf("expected 20 after reconcile, got %d", total)
	}
}

func TestIntegrationCommitAndCancelSale(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		SKU:        "ITEST-SALE-" + time.Now().UTC().Format("20060102150405.000"),
		Name:       "Producto Venta",
		Unit:       "unidad",
		PriceCents: 100000,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.ReceiveBatch(ctx, domain.InventoryBatch{
		ProductID: product.ID, Qty: 10,
	}, domain.StockMovement{
		ProductID: product.ID, Kind: domain.MovementEntry, Qty: 10, Actor: "itest",
	}); err != nil {
		t.Fatalf("receive batch: %v", err)
	}

	sale, err := s.CommitSale(ctx, domain.Sale{
		PaymentMethod: domain.PaymentCash,
		SubtotalCents: 400000,
		TotalCents:    400000,
		PaidCents:     400000,
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedBy:     "itest",
		Lines:         []domain.SaleLine{{ProductID: product.ID, Qty: 4, UnitPriceCents: 100000}},
		Payments:      []domain.SalePayment{{Method: domain.PaymentCash, AmountCents: 400000}},
	}, []domain.ProductQty{{ProductID: product.ID, Qty: 4}})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if sale.Number < 1 {
		t.Fatalf("expected assigned sale number, got %d", sale.Number)
	}

	total, err := s.TotalStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 after sale, got %d", total)
	}

	depletions, err := s.SaleDepletions(ctx, sale.ID)
	if err != nil {
		t.Fatalf("sale depletions: %v", err)
	}
	if len(depletions) != 1 || depletions[0].Qty != 4 {
		t.Fatalf("unexpected depletions %+v", depletions)
	}

	cancelled, err := s.CancelSale(ctx, sale.ID, domain.CancellationRecord{
		SaleID:             sale.ID,
		CancelledBy:        "itest",
		Role:               domain.RoleAdmin,
		Reason:             "integration cleanup",
		OriginalTotalCents: sale.TotalCents,
	}, depletions)
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	total, err = s.TotalStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected stock restored to 10, got %d", total)
	}
}
