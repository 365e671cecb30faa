package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
)

const battleCollection = "battles"

// MongoBattleStore is the mongo-backed implementation of the battle
// store contract. FindOneAndUpdate with a status filter gives the same
// single-operation conditional write the Postgres store gets from a
// guarded UPDATE.
type MongoBattleStore struct {
	col *mongo.Collection
	*notifier
}

func NewMongoBattleStore(db *mongo.Database) *MongoBattleStore {
	return &MongoBattleStore{
		col:      db.Collection(battleCollection),
		notifier: newNotifier(),
	}
}

// EnsureIndexes creates the partial unique index that keeps room codes
// unique among waiting sessions while allowing reuse afterwards.
func (s *MongoBattleStore) EnsureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys: bson.D{{Key: "room_code", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": string(models.StatusWaiting)}),
	}

	_, err := s.col.Indexes().CreateOne(ctx, model)
	return err
}

func (s *MongoBattleStore) Insert(ctx context.Context, b *models.BattleSession) error {
	_, err := s.col.InsertOne(ctx, b)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrCodeTaken
		}
		return fmt.Errorf("%w: insert battle: %v", models.ErrStorageUnavailable, err)
	}

	s.emit(b, []string{"status"})
	return nil
}

func (s *MongoBattleStore) GetByID(ctx context.Context, id string) (*models.BattleSession, error) {
	b := &models.BattleSession{}
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get battle by id: %v", models.ErrStorageUnavailable, err)
	}
	return b, nil
}

func (s *MongoBattleStore) GetByRoomCode(ctx context.Context, code string, status models.Status) (*models.BattleSession, error) {
	b := &models.BattleSession{}
	err := s.col.FindOne(ctx, bson.M{"room_code": code, "status": status}).Decode(b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get battle by room code: %v", models.ErrStorageUnavailable, err)
	}
	return b, nil
}

func (s *MongoBattleStore) ListByParticipant(ctx context.Context, userID string, status models.Status) ([]*models.BattleSession, error) {
	filter := bson.M{
		"status": status,
		"$or": []bson.M{
			{"creator_id": userID},
			{"opponent_id": userID},
		},
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list battles by participant: %v", models.ErrStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	var battles []*models.BattleSession
	if err := cur.All(ctx, &battles); err != nil {
		return nil, fmt.Errorf("%w: decode battle documents: %v", models.ErrStorageUnavailable, err)
	}
	return battles, nil
}

func (s *MongoBattleStore) ConditionalUpdate(ctx context.Context, id string, expected models.Status, mut models.Mutation) (*models.BattleSession, error) {
	next := mut.Next
	update := bson.M{"$set": bson.M{
		"status":         next.Status,
		"opponent_id":    next.OpponentID,
		"creator_score":  next.CreatorScore,
		"opponent_score": next.OpponentScore,
		"winner_id":      next.WinnerID,
		"started_at":     next.StartedAt,
		"ended_at":       next.EndedAt,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	b := &models.BattleSession{}
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": expected}, update, opts).Decode(b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.conflictOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("%w: conditional battle update: %v", models.ErrStorageUnavailable, err)
	}

	s.emit(b, mut.Changed)
	return b, nil
}

func (s *MongoBattleStore) ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]*models.BattleSession, error) {
	filter := bson.M{
		"status":     models.StatusWaiting,
		"created_at": bson.M{"$lt": cutoff},
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list stale waiting battles: %v", models.ErrStorageUnavailable, err)
	}
	defer cur.Close(ctx)

	var battles []*models.BattleSession
	if err := cur.All(ctx, &battles); err != nil {
		return nil, fmt.Errorf("%w: decode battle documents: %v", models.ErrStorageUnavailable, err)
	}
	return battles, nil
}

func (s *MongoBattleStore) conflictOrMissing(ctx context.Context, id string) error {
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%w: check battle existence: %v", models.ErrStorageUnavailable, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return models.ErrConflict
}
