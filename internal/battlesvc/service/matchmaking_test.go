package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenahub/battle-services/internal/battlesvc/engine"
	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/battlesvc/roomcode"
)

// memStore implements BattleStore in memory with the same contract the
// real drivers provide: code uniqueness among waiting sessions and an
// atomic conditional update.
type memStore struct {
	mu   sync.Mutex
	byID map[string]*models.BattleSession
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*models.BattleSession)}
}

func (m *memStore) Insert(_ context.Context, s *models.BattleSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.byID {
		if b.Status == models.StatusWaiting && b.RoomCode == s.RoomCode {
			return models.ErrCodeTaken
		}
	}

	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.BattleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetByRoomCode(_ context.Context, code string, status models.Status) (*models.BattleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.byID {
		if b.RoomCode == code && b.Status == status {
			cp := *b
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) ListByParticipant(_ context.Context, userID string, status models.Status) ([]*models.BattleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.BattleSession
	for _, b := range m.byID {
		if b.Status == status && b.IsParticipant(userID) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ConditionalUpdate(_ context.Context, id string, expected models.Status, mut models.Mutation) (*models.BattleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.Status != expected {
		return nil, models.ErrConflict
	}

	cp := *mut.Next
	m.byID[id] = &cp
	out := cp
	return &out, nil
}

func newTestService(store BattleStore) *Matchmaking {
	return NewMatchmaking(store, roomcode.New(), engine.New(engine.Policy{}))
}

func TestCreateWaitingSession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)
	require.Equal(t, models.StatusWaiting, s.Status)
	require.Nil(t, s.OpponentID)
	require.True(t, roomcode.Valid(s.RoomCode))

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusWaiting, got.Status)
	require.Nil(t, got.OpponentID)
}

func TestCreateProducesDistinctSessions(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	a, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.RoomCode, b.RoomCode)
}

// zeroReader makes the generator emit the same code forever, forcing
// every retry into a collision.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestCreateCodeSpaceExhausted(t *testing.T) {
	svc := NewMatchmaking(newMemStore(), roomcode.NewWithSource(zeroReader{}), engine.New(engine.Policy{}))
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "bob", "quiz")
	require.ErrorIs(t, err, models.ErrCodeSpaceExhausted)
}

func TestJoin(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	joined, err := svc.Join(ctx, "bob", s.RoomCode)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, joined.Status)
	require.NotNil(t, joined.OpponentID)
	require.Equal(t, "bob", *joined.OpponentID)
	require.NotNil(t, joined.StartedAt)
}

func TestJoinNormalizesCode(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	joined, err := svc.Join(ctx, "bob", "  "+lower(s.RoomCode)+" ")
	require.NoError(t, err)
	require.Equal(t, s.ID, joined.ID)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinGuards(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	_, err = svc.Join(ctx, "alice", s.RoomCode)
	require.ErrorIs(t, err, models.ErrSelfJoin)

	_, err = svc.Join(ctx, "bob", "QQQQQQ")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Join(ctx, "bob", "not a code")
	require.ErrorIs(t, err, models.ErrNotFound)
}

// barrierStore holds every joiner at the read until all of them have a
// waiting snapshot, so the conditional update settles the race alone.
type barrierStore struct {
	*memStore
	barrier *sync.WaitGroup
}

func (b *barrierStore) GetByRoomCode(ctx context.Context, code string, status models.Status) (*models.BattleSession, error) {
	s, err := b.memStore.GetByRoomCode(ctx, code, status)
	b.barrier.Done()
	b.barrier.Wait()
	return s, err
}

func TestJoinRaceHasExactlyOneWinner(t *testing.T) {
	const joiners = 8

	var barrier sync.WaitGroup
	barrier.Add(joiners)
	store := &barrierStore{memStore: newMemStore(), barrier: &barrier}
	svc := newTestService(store)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	errs := make(chan error, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		joiner := string(rune('b' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Join(ctx, joiner, s.RoomCode)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, claimed := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrAlreadyClaimed):
			claimed++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, joiners-1, claimed)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, got.Status)
	require.NotNil(t, got.OpponentID)
}

func TestReportResult(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", s.RoomCode)
	require.NoError(t, err)

	done, err := svc.ReportResult(ctx, "alice", s.ID, 10, 7)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.WinnerID)
	require.Equal(t, "alice", *done.WinnerID)
	require.NotNil(t, done.EndedAt)

	// second report hits a completed session
	_, err = svc.ReportResult(ctx, "bob", s.ID, 0, 1)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestReportResultGuards(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	_, err = svc.ReportResult(ctx, "alice", s.ID, 1, 0)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.Join(ctx, "bob", s.RoomCode)
	require.NoError(t, err)

	_, err = svc.ReportResult(ctx, "mallory", s.ID, 1, 0)
	require.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = svc.ReportResult(ctx, "alice", "no-such-id", 1, 0)
	require.ErrorIs(t, err, models.ErrNotFound)
}

// staleReadStore serves a stale active snapshot while the stored record
// has already completed, pushing the conflict onto the conditional
// write.
type staleReadStore struct {
	*memStore
	stale *models.BattleSession
}

func (s *staleReadStore) GetByID(context.Context, string) (*models.BattleSession, error) {
	cp := *s.stale
	return &cp, nil
}

func TestReportResultLosesToConcurrentTransition(t *testing.T) {
	mem := newMemStore()
	svc := newTestService(mem)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)
	active, err := svc.Join(ctx, "bob", s.RoomCode)
	require.NoError(t, err)
	_, err = svc.ReportResult(ctx, "bob", s.ID, 3, 5)
	require.NoError(t, err)

	stale := newTestService(&staleReadStore{memStore: mem, stale: active})
	_, err = stale.ReportResult(ctx, "alice", s.ID, 9, 0)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelWaiting(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "bob", s.ID)
	require.ErrorIs(t, err, models.ErrUnauthorized)

	got, err := svc.Cancel(ctx, "alice", s.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, got.Status)
	require.Nil(t, got.WinnerID)
}

func TestCancelActiveForfeits(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", s.RoomCode)
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, "alice", s.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.WinnerID)
	require.Equal(t, "bob", *got.WinnerID)
}

func TestResumeListsActiveOnly(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	// a waiting session must not show up in resume
	_, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	s2, err := svc.Create(ctx, "carol", "quiz")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "alice", s2.RoomCode)
	require.NoError(t, err)

	sessions, err := svc.Resume(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, s2.ID, sessions[0].ID)

	sessions, err = svc.Resume(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestGetSessionAuthorization(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "quiz")
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, "alice", s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	_, err = svc.GetSession(ctx, "mallory", s.ID)
	require.ErrorIs(t, err, models.ErrUnauthorized)
}
