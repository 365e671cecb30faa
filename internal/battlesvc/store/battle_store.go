package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
)

const battleColumns = `id, room_code, game_type, creator_id, opponent_id, status,
		creator_score, opponent_score, winner_id, created_at, started_at, ended_at`

// BattleStore is the Postgres implementation. Room-code uniqueness
// among waiting sessions is a partial unique index (see
// scripts/schema.sql); the conditional write is a single UPDATE guarded
// by the expected status, so the join race is settled server-side.
type BattleStore struct {
	db *pgxpool.Pool
	*notifier
}

func NewBattleStore(db *pgxpool.Pool) *BattleStore {
	return &BattleStore{db: db, notifier: newNotifier()}
}

func (s *BattleStore) Insert(ctx context.Context, b *models.BattleSession) error {
	query := `
		INSERT INTO battles (` + battleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.Exec(ctx, query,
		b.ID,
		b.RoomCode,
		b.GameType,
		b.CreatorID,
		b.OpponentID,
		b.Status,
		b.CreatorScore,
		b.OpponentScore,
		b.WinnerID,
		b.CreatedAt,
		b.StartedAt,
		b.EndedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrCodeTaken
		}
		return fmt.Errorf("%w: insert battle: %v", models.ErrStorageUnavailable, err)
	}

	s.emit(b, []string{"status"})
	return nil
}

func (s *BattleStore) GetByID(ctx context.Context, id string) (*models.BattleSession, error) {
	query := `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE id = $1
	`

	b, err := s.scanOne(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get battle by id: %v", models.ErrStorageUnavailable, err)
	}

	return b, nil
}

// GetByRoomCode resolves a room code within one status. Codes are only
// unique among waiting sessions, so the status filter is mandatory.
func (s *BattleStore) GetByRoomCode(ctx context.Context, code string, status models.Status) (*models.BattleSession, error) {
	query := `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE room_code = $1 AND status = $2
		LIMIT 1
	`

	b, err := s.scanOne(s.db.QueryRow(ctx, query, code, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get battle by room code: %v", models.ErrStorageUnavailable, err)
	}

	return b, nil
}

func (s *BattleStore) ListByParticipant(ctx context.Context, userID string, status models.Status) ([]*models.BattleSession, error) {
	query := `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE (creator_id = $1 OR opponent_id = $1) AND status = $2
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID, status)
	if err != nil {
		return nil, fmt.Errorf("%w: list battles by participant: %v", models.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return s.scanAll(rows)
}

// ConditionalUpdate writes the engine-computed snapshot iff the stored
// status still matches expected. One statement, no read-modify-write:
// losers of a join race get zero rows back, never a partial write.
func (s *BattleStore) ConditionalUpdate(ctx context.Context, id string, expected models.Status, mut models.Mutation) (*models.BattleSession, error) {
	query := `
		UPDATE battles
		SET status = $3,
		    opponent_id = $4,
		    creator_score = $5,
		    opponent_score = $6,
		    winner_id = $7,
		    started_at = $8,
		    ended_at = $9
		WHERE id = $1 AND status = $2
		RETURNING ` + battleColumns + `
	`

	next := mut.Next
	b, err := s.scanOne(s.db.QueryRow(ctx, query, id, expected,
		next.Status,
		next.OpponentID,
		next.CreatorScore,
		next.OpponentScore,
		next.WinnerID,
		next.StartedAt,
		next.EndedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.conflictOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("%w: conditional battle update: %v", models.ErrStorageUnavailable, err)
	}

	s.emit(b, mut.Changed)
	return b, nil
}

// ListWaitingBefore lists waiting sessions created before cutoff, for
// the sweeper.
func (s *BattleStore) ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]*models.BattleSession, error) {
	query := `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, models.StatusWaiting, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale waiting battles: %v", models.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return s.scanAll(rows)
}

// conflictOrMissing decides what a zero-row conditional update means:
// the session exists under another status (lost race, stale client) or
// does not exist at all.
func (s *BattleStore) conflictOrMissing(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM battles WHERE id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("%w: check battle existence: %v", models.ErrStorageUnavailable, err)
	}
	return models.ErrConflict
}

func (s *BattleStore) scanOne(row pgx.Row) (*models.BattleSession, error) {
	b := &models.BattleSession{}
	err := row.Scan(
		&b.ID,
		&b.RoomCode,
		&b.GameType,
		&b.CreatorID,
		&b.OpponentID,
		&b.Status,
		&b.CreatorScore,
		&b.OpponentScore,
		&b.WinnerID,
		&b.CreatedAt,
		&b.StartedAt,
		&b.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BattleStore) scanAll(rows pgx.Rows) ([]*models.BattleSession, error) {
	var battles []*models.BattleSession
	for rows.Next() {
		b, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan battle row: %v", models.ErrStorageUnavailable, err)
		}
		battles = append(battles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate battle rows: %v", models.ErrStorageUnavailable, err)
	}
	return battles, nil
}
