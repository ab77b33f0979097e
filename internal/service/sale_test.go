package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/store/memory"
)

// contentiousRepo fails the first N commits with a serialization conflict,
// then delegates to the real store.
type contentiousRepo struct {
	store.Repository
	failures int
	attempts int
}

func (r *contentiousRepo) CommitSale(ctx context.Context, sale domain.Sale, depletions []domain.ProductQty) (*domain.Sale, error) {
	r.attempts++
	if r.attempts <= r.failures {
		return nil, fmt.Errorf("%w: 40001", store.ErrConflict)
	}
	return r.Repository.CommitSale(ctx, sale, depletions)
}

func TestCommitSaleDepletesStockAndPrices(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	resp, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod:   domain.PaymentCash,
		DiscountPercent: 10,
		Lines: []domain.SaleLine{
			{ProductID: "prod-agua", Qty: 2, UnitPriceCents: 90000},
			{ProductID: "prod-cola", Qty: 1, UnitPriceCents: 250000},
		},
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	sale := resp.Sale
	if sale.SubtotalCents != 430000 || sale.DiscountCents != 43000 || sale.TotalCents != 387000 {
		t.Fatalf("unexpected totals %+v", sale)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid || sale.PaidCents != 387000 {
		t.Fatalf("cash sale should be fully paid, got %+v", sale)
	}
	if len(sale.Payments) != 1 || sale.Payments[0].Method != domain.PaymentCash {
		t.Fatalf("expected a single synthesized cash tender, got %+v", sale.Payments)
	}
	if sale.Number < 1 {
		t.Fatalf("expected a sale number to be assigned, got %d", sale.Number)
	}

	total, err := svc.TotalStock(ctx, "prod-agua")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 58 {
		t.Fatalf("expected 58 agua after selling 2, got %d", total)
	}

	movements, err := svc.ListMovements(ctx, "prod-agua", 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) == 0 || movements[0].Kind != domain.MovementSale || movements[0].Reference != sale.ID {
		t.Fatalf("expected a sale movement referencing %s, got %+v", sale.ID, movements)
	}
}

func TestCommitSaleExpandsAndMergesComboLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	// Two combos expand to 2 pan + 2 queso; the direct pan line merges in.
	_, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.SaleLine{
			{ComboID: "combo-merienda", Qty: 2, UnitPriceCents: 750000},
			{ProductID: "prod-pan", Qty: 1, UnitPriceCents: 180000},
		},
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	pan, err := svc.TotalStock(ctx, "prod-pan")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	queso, err := svc.TotalStock(ctx, "prod-queso")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if pan != 57 || queso != 58 {
		t.Fatalf("expected pan 57 and queso 58, got %d and %d", pan, queso)
	}
}

func TestCommitSaleRejectsInsufficientStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	// Drain the product completely, then ask for one more.
	_, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: "prod-agua", Qty: 60, UnitPriceCents: 90000}},
	})
	if err != nil {
		t.Fatalf("draining sale: %v", err)
	}

	_, err = svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: "prod-agua", Qty: 1, UnitPriceCents: 90000}},
	})
	expectRejection(t, err, RejectInsufficientStock)

	total, err := svc.TotalStock(ctx, "prod-agua")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected stock at zero, got %d", total)
	}
}

func TestCommitSaleAllOrNothingAcrossLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	_, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.SaleLine{
			{ProductID: "prod-agua", Qty: 10, UnitPriceCents: 90000},
			{ProductID: "prod-cola", Qty: 61, UnitPriceCents: 250000},
		},
	})
	expectRejection(t, err, RejectInsufficientStock)

	agua, err := svc.TotalStock(ctx, "prod-agua")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if agua != 60 {
		t.Fatalf("a failed sale must not touch any line, agua at %d", agua)
	}
}

func TestCommitSaleOnAccountDebitsCustomer(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	resp, err := svc.CommitSale(ctx, domain.SaleRequest{
		CustomerID:    "cust-lopez",
		PaymentMethod: domain.PaymentOnAccount,
		Lines:         []domain.SaleLine{{ProductID: "prod-cola", Qty: 4, UnitPriceCents: 250000}},
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	sale := resp.Sale
	if sale.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("on-account sale must be pending, got %s", sale.PaymentStatus)
	}
	if sale.PaidCents != 0 || sale.PendingCents != 1000000 {
		t.Fatalf("expected nothing paid and 1000000 pending, got %+v", sale)
	}

	customer, err := svc.GetCustomer(ctx, "cust-lopez")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.BalanceCents != -1000000 {
		t.Fatalf("expected balance -1000000 after the charge, got %d", customer.BalanceCents)
	}
}

func TestCommitSaleOnAccountOverLimitRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	_, err := svc.CommitSale(ctx, domain.SaleRequest{
		CustomerID:    "cust-lopez",
		PaymentMethod: domain.PaymentOnAccount,
		Lines:         []domain.SaleLine{{ProductID: "prod-cola", Qty: 21, UnitPriceCents: 250000}},
	})
	expectRejection(t, err, RejectCreditExceeded)

	total, err := svc.TotalStock(ctx, "prod-cola")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 60 {
		t.Fatalf("rejected sale must not deplete stock, got %d", total)
	}
}

func TestCommitSaleOnAccountRequiresCustomer(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CommitSale(ctxAs("cajero", domain.RoleCashier), domain.SaleRequest{
		PaymentMethod: domain.PaymentOnAccount,
		Lines:         []domain.SaleLine{{ProductID: "prod-cola", Qty: 1, UnitPriceCents: 250000}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request without a customer, got %v", err)
	}
}

func TestCommitSaleSplitTenders(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	resp, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentSplit,
		Lines:         []domain.SaleLine{{ProductID: "prod-cola", Qty: 2, UnitPriceCents: 250000}},
		Payments: []domain.SalePayment{
			{Method: domain.PaymentCash, AmountCents: 300000},
			{Method: domain.PaymentCard, AmountCents: 200000},
		},
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if len(resp.Sale.Payments) != 2 {
		t.Fatalf("expected both tenders stored, got %+v", resp.Sale.Payments)
	}
}

func TestCommitSaleSplitTenderValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)
	lines := []domain.SaleLine{{ProductID: "prod-cola", Qty: 2, UnitPriceCents: 250000}}

	// Tenders that do not sum to the total.
	_, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentSplit,
		Lines:         lines,
		Payments: []domain.SalePayment{
			{Method: domain.PaymentCash, AmountCents: 300000},
			{Method: domain.PaymentCard, AmountCents: 100000},
		},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for mismatched tenders, got %v", err)
	}

	// A single tender is not a split.
	_, err = svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentSplit,
		Lines:         lines,
		Payments:      []domain.SalePayment{{Method: domain.PaymentCash, AmountCents: 500000}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for single tender, got %v", err)
	}

	// On-account cannot hide inside a split.
	_, err = svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod: domain.PaymentSplit,
		Lines:         lines,
		Payments: []domain.SalePayment{
			{Method: domain.PaymentCash, AmountCents: 300000},
			{Method: domain.PaymentOnAccount, AmountCents: 200000},
		},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for on-account tender in split, got %v", err)
	}
}

func TestCommitSaleLineValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	cases := []domain.SaleRequest{
		{PaymentMethod: domain.PaymentCash},
		{PaymentMethod: "cheque", Lines: []domain.SaleLine{{ProductID: "prod-cola", Qty: 1, UnitPriceCents: 100}}},
		{PaymentMethod: domain.PaymentCash, Lines: []domain.SaleLine{{ProductID: "prod-cola", Qty: 0, UnitPriceCents: 100}}},
		{PaymentMethod: domain.PaymentCash, Lines: []domain.SaleLine{{Qty: 1, UnitPriceCents: 100}}},
		{PaymentMethod: domain.PaymentCash, Lines: []domain.SaleLine{{ProductID: "prod-cola", ComboID: "combo-merienda", Qty: 1, UnitPriceCents: 100}}},
	}
	for _, req := range cases {
		if _, err := svc.CommitSale(ctx, req); !errors.Is(err, store.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
}

func TestCommitSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CommitSale(ctxAs("cajero", domain.RoleCashier), domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: "prod-inexistente", Qty: 1, UnitPriceCents: 100}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommitSaleFullDiscountCommits(t *testing.T) {
	svc, _ := newTestService()
	ctx := ctxAs("cajero", domain.RoleCashier)

	resp, err := svc.CommitSale(ctx, domain.SaleRequest{
		PaymentMethod:   domain.PaymentCash,
		DiscountPercent: 100,
		Lines:           []domain.SaleLine{{ProductID: "prod-agua", Qty: 1, UnitPriceCents: 90000}},
	})
	if err != nil {
		t.Fatalf("full-discount sale must commit: %v", err)
	}

	sale := resp.Sale
	if sale.SubtotalCents != 90000 || sale.DiscountCents != 90000 || sale.TotalCents != 0 {
		t.Fatalf("unexpected totals %+v", sale)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("a zero-total sale owes nothing, got %s", sale.PaymentStatus)
	}

	total, err := svc.TotalStock(ctx, "prod-agua")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 59 {
		t.Fatalf("full-discount sale still depletes stock, got %d", total)
	}
}

func TestCommitSaleRetriesSerializationConflicts(t *testing.T) {
	repo := &contentiousRepo{Repository: memory.NewSeeded(), failures: 2}
	svc := New(repo, cache.NoopCatalogCache{}, time.Minute)

	resp, err := svc.CommitSale(ctxAs("cajero", domain.RoleCashier), domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: "prod-agua", Qty: 1, UnitPriceCents: 90000}},
	})
	if err != nil {
		t.Fatalf("expected retry to absorb two conflicts: %v", err)
	}
	if repo.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.attempts)
	}
	if resp.Sale.Status != domain.SaleStatusActive {
		t.Fatalf("expected committed sale, got %+v", resp.Sale)
	}
}

func TestCommitSaleExhaustedConflictsBecomeRejection(t *testing.T) {
	repo := &contentiousRepo{Repository: memory.NewSeeded(), failures: 100}
	svc := New(repo, cache.NoopCatalogCache{}, time.Minute)

	_, err := svc.CommitSale(ctxAs("cajero", domain.RoleCashier), domain.SaleRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: "prod-agua", Qty: 1, UnitPriceCents: 90000}},
	})
	expectRejection(t, err, RejectStockContention)
	if repo.attempts != 3 {
		t.Fatalf("retry must stop after 3 attempts, got %d", repo.attempts)
	}
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	svc, _ := newTestService()

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CommitSale(ctxAs("cajero", domain.RoleCashier), domain.SaleRequest{
				PaymentMethod: domain.PaymentCash,
				Lines:         []domain.SaleLine{{ProductID: "prod-fideos", Qty: 10, UnitPriceCents: 140000}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		expectRejection(t, err, RejectInsufficientStock)
	}
	if succeeded != 6 {
		t.Fatalf("60 units at 10 per sale allow exactly 6 commits, got %d", succeeded)
	}

	total, err := svc.TotalStock(context.Background(), "prod-fideos")
	if err != nil {
		t.Fatalf("total stock: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected stock exactly at zero, got %d", total)
	}
}
