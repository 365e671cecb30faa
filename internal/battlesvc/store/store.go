package store

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	battledb "github.com/arenahub/battle-services/internal/battlesvc/db"
	"github.com/arenahub/battle-services/internal/battlesvc/models"
)

// Store is the full surface a battle store implementation provides: the
// five operations the matchmaking service depends on, the change stream
// the fanout adapter consumes, and the stale-session listing the
// sweeper uses.
type Store interface {
	Insert(ctx context.Context, s *models.BattleSession) error
	GetByID(ctx context.Context, id string) (*models.BattleSession, error)
	GetByRoomCode(ctx context.Context, code string, status models.Status) (*models.BattleSession, error)
	ListByParticipant(ctx context.Context, userID string, status models.Status) ([]*models.BattleSession, error)
	ConditionalUpdate(ctx context.Context, id string, expected models.Status, mut models.Mutation) (*models.BattleSession, error)

	ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]*models.BattleSession, error)
	Changes() <-chan models.Change
}

// Open selects a store implementation by BATTLE_STORE_DRIVER
// ("postgres" by default, or "mongo").
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("BATTLE_STORE_DRIVER")

	switch driver {
	case "", "postgres":
		pool, err := battledb.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("open postgres battle store: %w", err)
		}
		return NewBattleStore(pool), nil
	case "mongo":
		mdb, err := battledb.ConnectMongo(ctx)
		if err != nil {
			return nil, fmt.Errorf("open mongo battle store: %w", err)
		}
		ms := NewMongoBattleStore(mdb)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo battle indexes: %w", err)
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unknown BATTLE_STORE_DRIVER %q", driver)
	}
}

// changeBufferSize bounds the change stream. Fanout is best-effort:
// when the buffer is full the entry is dropped and the consumer
// reconciles by refetching, the write path never blocks.
const changeBufferSize = 256

type notifier struct {
	ch chan models.Change
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan models.Change, changeBufferSize)}
}

func (n *notifier) emit(s *models.BattleSession, changed []string) {
	c := models.Change{
		Session:       s,
		ChangedFields: changed,
		Timestamp:     time.Now().UTC(),
	}

	select {
	case n.ch <- c:
	default:
		log.Warnf("battle change stream full, dropping event for session %s", s.ID)
	}
}

func (n *notifier) Changes() <-chan models.Change {
	return n.ch
}
