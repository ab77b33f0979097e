package service

import (
	"context"
	"testing"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store/memory"
)

func seedComboFixture(t *testing.T, repo *memory.Store) domain.Combo {
	t.Helper()
	ctx := context.Background()

	for _, fixture := range []struct {
		id  string
		qty int
	}{
		{"prod-milanesa", 5},
		{"prod-ensalada", 3},
	} {
		if _, err := repo.CreateProduct(ctx, domain.Product{
			ID: fixture.id, SKU: fixture.id, Name: fixture.id, PriceCents: 100000,
		}); err != nil {
			t.Fatalf("create product %s: %v", fixture.id, err)
		}
		if _, err := repo.ReceiveBatch(ctx, domain.InventoryBatch{
			ProductID: fixture.id, Qty: fixture.qty,
		}, domain.StockMovement{ProductID: fixture.id, Kind: domain.MovementEntry, Qty: fixture.qty}); err != nil {
			t.Fatalf("receive batch %s: %v", fixture.id, err)
		}
	}

	combo, err := repo.CreateCombo(ctx, domain.Combo{
		Name:       "Combo Almuerzo",
		PriceCents: 900000,
		Components: []domain.ComboComponent{
			{ProductID: "prod-milanesa", QtyPerCombo: 2},
			{ProductID: "prod-ensalada", QtyPerCombo: 1},
		},
	})
	if err != nil {
		t.Fatalf("create combo: %v", err)
	}
	return *combo
}

func TestComboAvailabilityMinimumAcrossComponents(t *testing.T) {
	svc, repo := newTestService()
	combo := seedComboFixture(t, repo)

	// 5 milanesas at 2 per combo bounds it at 2, even though 3 salads allow 3.
	resp, err := svc.ComboAvailability(context.Background(), combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}
	if resp.MaxAssemblable != 2 {
		t.Fatalf("expected 2 assemblable, got %d", resp.MaxAssemblable)
	}
	if resp.Limiting != "prod-milanesa" {
		t.Fatalf("expected prod-milanesa to limit, got %s", resp.Limiting)
	}
}

func TestComboAvailabilityDropsToZeroWithComponent(t *testing.T) {
	svc, repo := newTestService()
	combo := seedComboFixture(t, repo)
	ctx := ctxAs("gerente", domain.RoleManager)

	if err := svc.RecordWaste(ctx, domain.WasteRequest{
		ProductID: "prod-ensalada", Qty: 3, Note: "vencido",
	}); err != nil {
		t.Fatalf("record waste: %v", err)
	}

	resp, err := svc.ComboAvailability(ctx, combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}
	if resp.MaxAssemblable != 0 || resp.Limiting != "prod-ensalada" {
		t.Fatalf("expected zero availability limited by prod-ensalada, got %+v", resp)
	}
}

func TestComboAvailabilityZeroComponents(t *testing.T) {
	svc, repo := newTestService()

	combo, err := repo.CreateCombo(context.Background(), domain.Combo{
		Name: "Combo Vacio", PriceCents: 100000,
	})
	if err != nil {
		t.Fatalf("create combo: %v", err)
	}

	resp, err := svc.ComboAvailability(context.Background(), combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}
	if resp.MaxAssemblable != 0 {
		t.Fatalf("expected 0 for a combo without components, got %d", resp.MaxAssemblable)
	}
}

func TestComboAvailabilityOutsideActiveWindow(t *testing.T) {
	svc, repo := newTestService()

	until := time.Now().UTC().Add(-time.Hour)
	combo, err := repo.CreateCombo(context.Background(), domain.Combo{
		Name:        "Combo Vencido",
		PriceCents:  100000,
		ActiveUntil: &until,
		Components:  []domain.ComboComponent{{ProductID: "prod-agua", QtyPerCombo: 1}},
	})
	if err != nil {
		t.Fatalf("create combo: %v", err)
	}

	resp, err := svc.ComboAvailability(context.Background(), combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}
	if resp.MaxAssemblable != 0 {
		t.Fatalf("expected 0 outside the active window, got %d", resp.MaxAssemblable)
	}
}

func TestComboAvailabilityReflectsLiveStock(t *testing.T) {
	svc, repo := newTestService()
	combo := seedComboFixture(t, repo)
	ctx := ctxAs("gerente", domain.RoleManager)

	before, err := svc.ComboAvailability(ctx, combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}

	if _, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ProductID: "prod-milanesa", Qty: 4,
	}); err != nil {
		t.Fatalf("receive batch: %v", err)
	}

	after, err := svc.ComboAvailability(ctx, combo.ID)
	if err != nil {
		t.Fatalf("combo availability: %v", err)
	}
	// 9 milanesas now allow 4 combos, but 3 salads still cap it at 3.
	if before.MaxAssemblable != 2 || after.MaxAssemblable != 3 {
		t.Fatalf("expected availability to move 2 -> 3, got %d -> %d", before.MaxAssemblable, after.MaxAssemblable)
	}
}
