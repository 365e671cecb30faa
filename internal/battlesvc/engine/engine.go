// Package engine owns the battle session state machine. It is pure:
// every method takes a session snapshot plus an event and returns a new
// snapshot with the list of changed fields, or an error. It performs no
// I/O, so transition legality is testable without a database.
package engine

import (
	"time"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
)

type TiePolicy int

const (
	// TieNoWinner leaves winner_id null when scores are equal.
	TieNoWinner TiePolicy = iota
	// TieCreatorWins awards equal scores to the session creator.
	TieCreatorWins
)

type ForfeitPolicy int

const (
	// ForfeitAwardsRemaining makes the non-cancelling participant the
	// winner when an active session is forfeited.
	ForfeitAwardsRemaining ForfeitPolicy = iota
	// ForfeitNoWinner cancels an active session with winner_id null.
	ForfeitNoWinner
)

// Policy captures the product decisions the state machine does not make
// on its own.
type Policy struct {
	Tie     TiePolicy
	Forfeit ForfeitPolicy
}

type Engine struct {
	policy Policy
}

func New(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// NewSession builds the initial waiting snapshot. Room code and id are
// assigned by the caller; the engine only fixes the starting shape.
func (e *Engine) NewSession(id, roomCode, creatorID, gameType string, now time.Time) models.BattleSession {
	return models.BattleSession{
		ID:        id,
		RoomCode:  roomCode,
		GameType:  gameType,
		CreatorID: creatorID,
		Status:    models.StatusWaiting,
		CreatedAt: now.UTC(),
	}
}

// Join computes the waiting -> active transition. Opponent, status and
// started_at change together; the store's conditional write keeps the
// triple atomic against racing joiners.
func (e *Engine) Join(s models.BattleSession, joinerID string, now time.Time) (models.BattleSession, []string, error) {
	if s.Status != models.StatusWaiting {
		return s, nil, models.ErrInvalidTransition
	}
	if joinerID == s.CreatorID {
		return s, nil, models.ErrSelfJoin
	}

	started := now.UTC()
	s.OpponentID = &joinerID
	s.Status = models.StatusActive
	s.StartedAt = &started
	return s, []string{"status", "opponent_id", "started_at"}, nil
}

// Report computes the active -> completed transition. The caller is the
// source of truth for scores; the engine only validates them and picks
// the winner per policy.
func (e *Engine) Report(s models.BattleSession, actorID string, creatorScore, opponentScore int, now time.Time) (models.BattleSession, []string, error) {
	if s.Status != models.StatusActive {
		return s, nil, models.ErrInvalidTransition
	}
	if !s.IsParticipant(actorID) {
		return s, nil, models.ErrUnauthorized
	}
	if creatorScore < 0 || opponentScore < 0 {
		return s, nil, models.ErrInvalidTransition
	}

	ended := now.UTC()
	s.CreatorScore = creatorScore
	s.OpponentScore = opponentScore
	s.WinnerID = e.winner(&s, creatorScore, opponentScore)
	s.Status = models.StatusCompleted
	s.EndedAt = &ended
	return s, []string{"status", "creator_score", "opponent_score", "winner_id", "ended_at"}, nil
}

// Cancel computes waiting -> cancelled (creator only) or the
// active -> cancelled forfeit (either participant).
func (e *Engine) Cancel(s models.BattleSession, actorID string, now time.Time) (models.BattleSession, []string, error) {
	ended := now.UTC()

	switch s.Status {
	case models.StatusWaiting:
		if actorID != s.CreatorID {
			return s, nil, models.ErrUnauthorized
		}
		s.Status = models.StatusCancelled
		s.EndedAt = &ended
		return s, []string{"status", "ended_at"}, nil

	case models.StatusActive:
		if !s.IsParticipant(actorID) {
			return s, nil, models.ErrUnauthorized
		}
		changed := []string{"status", "ended_at"}
		if e.policy.Forfeit == ForfeitAwardsRemaining {
			if remaining := s.OtherParticipant(actorID); remaining != "" {
				w := remaining
				s.WinnerID = &w
				changed = append(changed, "winner_id")
			}
		}
		s.Status = models.StatusCancelled
		s.EndedAt = &ended
		return s, changed, nil

	default:
		return s, nil, models.ErrInvalidTransition
	}
}

func (e *Engine) winner(s *models.BattleSession, creatorScore, opponentScore int) *string {
	switch {
	case creatorScore > opponentScore:
		w := s.CreatorID
		return &w
	case opponentScore > creatorScore:
		return s.OpponentID
	case e.policy.Tie == TieCreatorWins:
		w := s.CreatorID
		return &w
	default:
		return nil
	}
}
