package comm

import (
	"encoding/json"
	"time"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
)

// WSMessage is the envelope shared by web clients, the socket service
// and the battle service. SocketId routes replies back to the
// originating connection.
type WSMessage struct {
	Type     string          `json:"type"` // e.g. "create-battle", "battle-event"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
}

// BattleEvent is one fanout notification. Delivery is best-effort and
// at-most-once; a consumer that misses one refetches the session.
type BattleEvent struct {
	SessionID     string        `json:"session_id"`
	Status        models.Status `json:"status"`
	ChangedFields []string      `json:"changed_fields"`
	Timestamp     time.Time     `json:"timestamp"`
}

// WatchRequest registers or removes interest in fanout events for a
// user or a single session. Exactly one of the two fields is set.
type WatchRequest struct {
	UserId    string `json:"user_id,omitempty"`
	SessionId string `json:"session_id,omitempty"`
}

type CreateBattleRequest struct {
	UserId   string `json:"user_id"`
	GameType string `json:"game_type"`
}

type JoinBattleRequest struct {
	UserId   string `json:"user_id"`
	RoomCode string `json:"room_code"`
}

type ReportResultRequest struct {
	UserId        string `json:"user_id"`
	SessionId     string `json:"session_id"`
	CreatorScore  int    `json:"creator_score"`
	OpponentScore int    `json:"opponent_score"`
}

type CancelBattleRequest struct {
	UserId    string `json:"user_id"`
	SessionId string `json:"session_id"`
}

type ResumeRequest struct {
	UserId string `json:"user_id"`
}

type GetSessionRequest struct {
	UserId    string `json:"user_id"`
	SessionId string `json:"session_id"`
}

type BattleResponse struct {
	Session *models.BattleSession `json:"session"`
}

type ResumeResponse struct {
	Sessions []*models.BattleSession `json:"sessions"`
}

type ErrorResponse struct {
	Kind    string `json:"kind"` // one of the battle error kinds
	Message string `json:"message"`
}
