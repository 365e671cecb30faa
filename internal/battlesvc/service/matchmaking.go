package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/battlesvc/engine"
	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/battlesvc/roomcode"
)

// BattleStore is the storage contract the matchmaking service depends
// on. ConditionalUpdate must commit atomically or not at all when the
// stored status no longer matches expected; everything race-sensitive
// rides on that single primitive.
type BattleStore interface {
	Insert(ctx context.Context, s *models.BattleSession) error
	GetByID(ctx context.Context, id string) (*models.BattleSession, error)
	GetByRoomCode(ctx context.Context, code string, status models.Status) (*models.BattleSession, error)
	ListByParticipant(ctx context.Context, userID string, status models.Status) ([]*models.BattleSession, error)
	ConditionalUpdate(ctx context.Context, id string, expected models.Status, mut models.Mutation) (*models.BattleSession, error)
}

// createRetries bounds room code regeneration when a generated code is
// already held by a waiting session.
const createRetries = 5

type Matchmaking struct {
	store  BattleStore
	codes  *roomcode.Generator
	engine *engine.Engine
	now    func() time.Time
}

func NewMatchmaking(store BattleStore, codes *roomcode.Generator, eng *engine.Engine) *Matchmaking {
	return &Matchmaking{
		store:  store,
		codes:  codes,
		engine: eng,
		now:    time.Now,
	}
}

// Create opens a new waiting session for creatorID. Not safe to retry
// blindly: every call produces a fresh session with a fresh code.
func (m *Matchmaking) Create(ctx context.Context, creatorID, gameType string) (*models.BattleSession, error) {
	if creatorID == "" || gameType == "" {
		return nil, models.ErrInvalidTransition
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		code, err := m.codes.Generate()
		if err != nil {
			return nil, err
		}

		b := m.engine.NewSession(uuid.New().String(), code, creatorID, gameType, m.now())
		err = m.store.Insert(ctx, &b)
		if err == nil {
			return &b, nil
		}
		if errors.Is(err, models.ErrCodeTaken) {
			log.Infof("room code %s already held by a waiting session, regenerating (attempt %d)", code, attempt+1)
			continue
		}
		return nil, err
	}

	return nil, models.ErrCodeSpaceExhausted
}

// Join claims the waiting session behind roomCode for joinerID. Exactly
// one concurrent joiner wins; losers get ErrAlreadyClaimed, which is
// distinct from ErrNotFound so the client can tell "someone beat you to
// it" from "code invalid".
func (m *Matchmaking) Join(ctx context.Context, joinerID, code string) (*models.BattleSession, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !roomcode.Valid(code) {
		return nil, models.ErrNotFound
	}

	b, err := m.store.GetByRoomCode(ctx, code, models.StatusWaiting)
	if err != nil {
		return nil, err
	}

	next, changed, err := m.engine.Join(*b, joinerID, m.now())
	if err != nil {
		return nil, err
	}

	updated, err := m.store.ConditionalUpdate(ctx, b.ID, models.StatusWaiting, models.Mutation{Next: &next, Changed: changed})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrAlreadyClaimed
		}
		return nil, err
	}

	return updated, nil
}

// ReportResult completes an active session with the scores supplied by
// the game-rules collaborator. The winner falls out of the scores and
// the configured tie policy.
func (m *Matchmaking) ReportResult(ctx context.Context, actorID, sessionID string, creatorScore, opponentScore int) (*models.BattleSession, error) {
	b, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, changed, err := m.engine.Report(*b, actorID, creatorScore, opponentScore, m.now())
	if err != nil {
		return nil, err
	}

	updated, err := m.store.ConditionalUpdate(ctx, b.ID, models.StatusActive, models.Mutation{Next: &next, Changed: changed})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Session left active between the read and the write:
			// a stale client view, not a storage failure.
			return nil, models.ErrInvalidTransition
		}
		return nil, err
	}

	return updated, nil
}

// Cancel withdraws a waiting session (creator only) or forfeits an
// active one (either participant).
func (m *Matchmaking) Cancel(ctx context.Context, actorID, sessionID string) (*models.BattleSession, error) {
	b, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, changed, err := m.engine.Cancel(*b, actorID, m.now())
	if err != nil {
		return nil, err
	}

	updated, err := m.store.ConditionalUpdate(ctx, b.ID, b.Status, models.Mutation{Next: &next, Changed: changed})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrInvalidTransition
		}
		return nil, err
	}

	return updated, nil
}

// Resume lists the active sessions actorID participates in, for
// reconnect after a dropped connection.
func (m *Matchmaking) Resume(ctx context.Context, actorID string) ([]*models.BattleSession, error) {
	return m.store.ListByParticipant(ctx, actorID, models.StatusActive)
}

// GetSession fetches one session an actor participates in. Read path
// for client-side reconciliation after a missed fanout event.
func (m *Matchmaking) GetSession(ctx context.Context, actorID, sessionID string) (*models.BattleSession, error) {
	b, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, models.ErrUnauthorized
	}
	return b, nil
}
