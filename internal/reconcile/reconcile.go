// Package reconcile keeps a client-side view of battle sessions in step
// with the fanout stream. Fanout is at-most-once, so the local view can
// never trust events alone: an event that skips a lifecycle step, or
// that names fields whose values it does not carry, triggers a refetch
// through the Fetcher. Ordering only holds within one session.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/comm"
)

// Fetcher is the read path used to repair the local view, typically the
// GetSession operation of the battle service.
type Fetcher interface {
	GetSession(ctx context.Context, sessionID string) (*models.BattleSession, error)
}

type Reconciler struct {
	mu       sync.Mutex
	fetch    Fetcher
	sessions map[string]*models.BattleSession
	seenAt   map[string]time.Time // newest event timestamp applied per session
}

func New(fetch Fetcher) *Reconciler {
	return &Reconciler{
		fetch:    fetch,
		sessions: make(map[string]*models.BattleSession),
		seenAt:   make(map[string]time.Time),
	}
}

// Track seeds the local view with a snapshot the client already holds,
// e.g. the response of Create or Resume.
func (r *Reconciler) Track(s *models.BattleSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
}

// Session returns the tracked snapshot for id.
func (r *Reconciler) Session(id string) (*models.BattleSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Apply folds one fanout event into the local view and returns the
// resulting snapshot. Stale events (older than what was already
// applied) are dropped without a fetch.
func (r *Reconciler) Apply(ctx context.Context, ev comm.BattleEvent) (*models.BattleSession, error) {
	r.mu.Lock()
	if last, ok := r.seenAt[ev.SessionID]; ok && ev.Timestamp.Before(last) {
		var s *models.BattleSession
		if cur, ok := r.sessions[ev.SessionID]; ok {
			cp := *cur
			s = &cp
		}
		r.mu.Unlock()
		return s, nil
	}

	local, known := r.sessions[ev.SessionID]

	if !known || !legalStep(local.Status, ev.Status) || carriesValues(ev.ChangedFields) {
		r.mu.Unlock()
		return r.refetch(ctx, ev)
	}

	local.Status = ev.Status
	r.seenAt[ev.SessionID] = ev.Timestamp
	cp := *local
	r.mu.Unlock()
	return &cp, nil
}

func (r *Reconciler) refetch(ctx context.Context, ev comm.BattleEvent) (*models.BattleSession, error) {
	s, err := r.fetch.GetSession(ctx, ev.SessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.seenAt[s.ID] = ev.Timestamp
	cp := *s
	r.mu.Unlock()
	return &cp, nil
}

// legalStep reports whether to is reachable from from in one lifecycle
// transition (or is a repeat of the same state).
func legalStep(from, to models.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case models.StatusWaiting:
		return to == models.StatusActive || to == models.StatusCancelled
	case models.StatusActive:
		return to == models.StatusCompleted || to == models.StatusCancelled
	default:
		return false
	}
}

// carriesValues reports whether changed names fields whose values the
// event does not include, forcing a refetch to learn them. Timestamps
// count: a cancelled view with a nil ended_at would misreport the
// session until the next fetch.
func carriesValues(changed []string) bool {
	for _, f := range changed {
		switch f {
		case "opponent_id", "winner_id", "creator_score", "opponent_score",
			"started_at", "ended_at":
			return true
		}
	}
	return false
}
