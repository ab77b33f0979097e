package service

import (
	"context"
	"fmt"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionResponse{}, fmt.Errorf("authenticated actor required")
	}
	if req.OpeningCents <= 0 {
		return domain.SessionResponse{}, fmt.Errorf("%w: opening float must be positive", store.ErrInvalidRequest)
	}

	session, err := s.repo.OpenCashSession(ctx, domain.CashSession{
		Cashier:      actor.Username,
		OpeningCents: req.OpeningCents,
	})
	if err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, "session_open", "cash_session", session.ID, fmt.Sprintf("opening=%d", session.OpeningCents))
	return domain.SessionResponse{Session: *session}, nil
}

func (s *Service) GetOpenSession(ctx context.Context) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionResponse{}, fmt.Errorf("authenticated actor required")
	}
	session, err := s.repo.GetOpenSessionByActor(ctx, actor.Username)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *session}, nil
}

func (s *Service) RecordDenominationCount(ctx context.Context, req domain.DenominationCountRequest) (domain.SessionResponse, error) {
	session, err := s.ownedSession(ctx, req.SessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if req.DenominationCents < 1 {
		return domain.SessionResponse{}, store.ErrInvalidRequest
	}
	// Negative counts clamp to zero rather than failing the upsert.
	if req.Count < 0 {
		req.Count = 0
	}

	if err := s.repo.UpsertDenominationCount(ctx, session.ID, req.DenominationCents, req.Count); err != nil {
		return domain.SessionResponse{}, err
	}

	updated, err := s.repo.GetCashSession(ctx, session.ID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *updated}, nil
}

// CloseSession tallies the recorded denomination counts and closes the
// drawer. Expected cash is the opening float only; sales taken during the
// shift are reconciled by back-office reporting, not here.
func (s *Service) CloseSession(ctx context.Context, sessionID string) (domain.SessionResponse, error) {
	session, err := s.ownedSession(ctx, sessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}

	counted := int64(0)
	for _, count := range session.Counts {
		counted += count.DenominationCents * int64(count.Count)
	}
	expected := session.OpeningCents

	closed, err := s.repo.CloseCashSession(ctx, session.ID, counted, expected, counted-expected, time.Now().UTC())
	if err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, "session_close", "cash_session", closed.ID, fmt.Sprintf("counted=%d,expected=%d,difference=%d", closed.CountedCents, closed.ExpectedCents, closed.DifferenceCents))
	return domain.SessionResponse{Session: *closed}, nil
}

func (s *Service) ownedSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated actor required")
	}
	session, err := s.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Cashier != actor.Username && actor.Role == domain.RoleCashier {
		return nil, fmt.Errorf("%w: session belongs to another cashier", store.ErrInvalidRequest)
	}
	return session, nil
}
