package models

import "time"

// Battle session status values. The set is closed; every mutation goes
// through the lifecycle engine which only produces these four.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type BattleSession struct {
	ID            string     `json:"id" bson:"_id"`                       // Primary key, assigned at creation
	RoomCode      string     `json:"room_code" bson:"room_code"`          // Short join code, unique among waiting sessions
	GameType      string     `json:"game_type" bson:"game_type"`          // Tag owned by the external game-rules collaborator
	CreatorID     string     `json:"creator_id" bson:"creator_id"`        // Identity reference, opaque to this service
	OpponentID    *string    `json:"opponent_id" bson:"opponent_id"`      // Nil until a second player joins
	Status        Status     `json:"status" bson:"status"`
	CreatorScore  int        `json:"creator_score" bson:"creator_score"`
	OpponentScore int        `json:"opponent_score" bson:"opponent_score"`
	WinnerID      *string    `json:"winner_id" bson:"winner_id"`   // Set at most once, on completion
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	StartedAt     *time.Time `json:"started_at" bson:"started_at"` // Set on the waiting -> active transition
	EndedAt       *time.Time `json:"ended_at" bson:"ended_at"`     // Set on completion or cancellation
}

// IsParticipant reports whether userID is the creator or the joined opponent.
func (b *BattleSession) IsParticipant(userID string) bool {
	if b.CreatorID == userID {
		return true
	}
	return b.OpponentID != nil && *b.OpponentID == userID
}

// OtherParticipant returns the participant that is not userID, or ""
// when there is none.
func (b *BattleSession) OtherParticipant(userID string) string {
	if b.CreatorID != userID {
		return b.CreatorID
	}
	if b.OpponentID != nil && *b.OpponentID != userID {
		return *b.OpponentID
	}
	return ""
}

// Change is one entry of the store's change stream, consumed by the
// fanout adapter. ChangedFields names the fields the mutation touched.
type Change struct {
	Session       *BattleSession `json:"session"`
	ChangedFields []string       `json:"changed_fields"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Mutation carries the next snapshot computed by the lifecycle engine
// into the store's conditional write, together with the field names for
// the change stream.
type Mutation struct {
	Next    *BattleSession
	Changed []string
}
