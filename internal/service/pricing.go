package service

import (
	"math"

	"puntoventa/backend/internal/domain"
)

type CartTotals struct {
	SubtotalCents   int64
	DiscountPercent float64
	DiscountCents   int64
	TotalCents      int64
}

// PriceCart recomputes order totals from the line prices it is given. The
// discount percent is clamped to [0,100] regardless of what the caller sent.
func PriceCart(lines []domain.SaleLine, discountPercent float64) CartTotals {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}

	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.UnitPriceCents * int64(line.Qty)
	}

	discount := int64(math.Round(float64(subtotal) * discountPercent / 100))
	return CartTotals{
		SubtotalCents:   subtotal,
		DiscountPercent: discountPercent,
		DiscountCents:   discount,
		TotalCents:      subtotal - discount,
	}
}
