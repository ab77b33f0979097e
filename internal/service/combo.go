package service

import (
	"context"
	"time"

	"puntoventa/backend/internal/domain"
)

// ComboAvailability derives how many combos can be assembled right now from
// live component stock. The number is advisory; the sale commit re-verifies
// stock under its own lock.
func (s *Service) ComboAvailability(ctx context.Context, comboID string) (domain.ComboAvailabilityResponse, error) {
	combo, err := s.getCombo(ctx, comboID)
	if err != nil {
		return domain.ComboAvailabilityResponse{}, err
	}

	resp := domain.ComboAvailabilityResponse{ComboID: combo.ID}
	if len(combo.Components) == 0 {
		return resp, nil
	}
	if !comboActiveAt(combo, time.Now().UTC()) {
		return resp, nil
	}

	ids := make([]string, 0, len(combo.Components))
	for _, component := range combo.Components {
		ids = append(ids, component.ProductID)
	}
	totals, err := s.repo.BatchTotals(ctx, ids)
	if err != nil {
		return domain.ComboAvailabilityResponse{}, err
	}

	maxAssemblable := -1
	for _, component := range combo.Components {
		assemblable := totals[component.ProductID] / component.QtyPerCombo
		if maxAssemblable < 0 || assemblable < maxAssemblable {
			maxAssemblable = assemblable
			resp.Limiting = component.ProductID
		}
	}
	resp.MaxAssemblable = maxAssemblable
	return resp, nil
}

func comboActiveAt(combo *domain.Combo, at time.Time) bool {
	if combo.ActiveFrom != nil && at.Before(*combo.ActiveFrom) {
		return false
	}
	if combo.ActiveUntil != nil && at.After(*combo.ActiveUntil) {
		return false
	}
	return true
}
