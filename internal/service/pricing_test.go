package service

import (
	"testing"

	"puntoventa/backend/internal/domain"
)

func TestPriceCart(t *testing.T) {
	lines := []domain.SaleLine{
		{ProductID: "prod-agua", Qty: 2, UnitPriceCents: 90000},
		{ProductID: "prod-cola", Qty: 1, UnitPriceCents: 250000},
	}

	cases := []struct {
		name            string
		discountPercent float64
		wantDiscount    int64
		wantTotal       int64
	}{
		{"no discount", 0, 0, 430000},
		{"ten percent", 10, 43000, 387000},
		{"negative clamps to zero", -5, 0, 430000},
		{"over hundred clamps to full", 150, 430000, 0},
	}

	for _, tc := range cases {
		totals := PriceCart(lines, tc.discountPercent)
		if totals.SubtotalCents != 430000 {
			t.Fatalf("%s: expected subtotal 430000, got %d", tc.name, totals.SubtotalCents)
		}
		if totals.DiscountCents != tc.wantDiscount || totals.TotalCents != tc.wantTotal {
			t.Fatalf("%s: expected discount %d total %d, got %+v", tc.name, tc.wantDiscount, tc.wantTotal, totals)
		}
	}
}

func TestPriceCartRoundsDiscountToNearestCent(t *testing.T) {
	lines := []domain.SaleLine{{ProductID: "p", Qty: 1, UnitPriceCents: 999}}

	totals := PriceCart(lines, 33)
	// 999 * 0.33 = 329.67, rounds to 330.
	if totals.DiscountCents != 330 || totals.TotalCents != 669 {
		t.Fatalf("expected discount 330 and total 669, got %+v", totals)
	}
}
