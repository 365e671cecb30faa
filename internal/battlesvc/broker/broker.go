package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/battlesvc/service"
	"github.com/arenahub/battle-services/internal/comm"
)

// PushSubject carries replies back to the socket service, addressed by
// SocketId inside the envelope.
const PushSubject = "socket.push"

// RPCSubject is where the socket service forwards battle commands.
const RPCSubject = "battle.rpc"

type Broker struct {
	Conn        *nats.Conn
	Matchmaking *service.Matchmaking
}

func NewBroker(nc *nats.Conn, matchmaking *service.Matchmaking) *Broker {
	return &Broker{
		Conn:        nc,
		Matchmaking: matchmaking,
	}
}

// handles battle commands coming from the socket service
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	err := json.Unmarshal(msgNat.Data, &msg)
	if err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case "create-battle":
		req := comm.CreateBattleRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding create-battle request: %s", err)
			return
		}

		session, err := b.Matchmaking.Create(ctx, req.UserId, req.GameType)
		if err != nil {
			b.publishError("create-battle-response", err, msg.SocketId)
			return
		}
		b.publishSession("create-battle-response", session, msg.SocketId)

	case "join-battle":
		req := comm.JoinBattleRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding join-battle request: %s", err)
			return
		}

		session, err := b.Matchmaking.Join(ctx, req.UserId, req.RoomCode)
		if err != nil {
			b.publishError("join-battle-response", err, msg.SocketId)
			return
		}
		b.publishSession("join-battle-response", session, msg.SocketId)

	case "report-result":
		req := comm.ReportResultRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding report-result request: %s", err)
			return
		}

		session, err := b.Matchmaking.ReportResult(ctx, req.UserId, req.SessionId, req.CreatorScore, req.OpponentScore)
		if err != nil {
			b.publishError("report-result-response", err, msg.SocketId)
			return
		}
		b.publishSession("report-result-response", session, msg.SocketId)

	case "cancel-battle":
		req := comm.CancelBattleRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding cancel-battle request: %s", err)
			return
		}

		session, err := b.Matchmaking.Cancel(ctx, req.UserId, req.SessionId)
		if err != nil {
			b.publishError("cancel-battle-response", err, msg.SocketId)
			return
		}
		b.publishSession("cancel-battle-response", session, msg.SocketId)

	case "resume":
		req := comm.ResumeRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding resume request: %s", err)
			return
		}

		sessions, err := b.Matchmaking.Resume(ctx, req.UserId)
		if err != nil {
			b.publishError("resume-response", err, msg.SocketId)
			return
		}

		data, err := json.Marshal(comm.ResumeResponse{Sessions: sessions})
		if err != nil {
			log.Errorf("unable to marshal resume response for user %s", req.UserId)
			return
		}
		b.push(&comm.WSMessage{Type: "resume-response", Data: data, SocketId: msg.SocketId})

	case "get-session":
		req := comm.GetSessionRequest{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding get-session request: %s", err)
			return
		}

		session, err := b.Matchmaking.GetSession(ctx, req.UserId, req.SessionId)
		if err != nil {
			b.publishError("get-session-response", err, msg.SocketId)
			return
		}
		b.publishSession("get-session-response", session, msg.SocketId)

	default:
		log.Error("Unknown message")
		return
	}
}

func (b *Broker) publishSession(msgType string, session *models.BattleSession, socketId string) {
	data, err := json.Marshal(comm.BattleResponse{Session: session})
	if err != nil {
		log.Errorf("unable to marshal %s for session %s", msgType, session.ID)
		return
	}

	b.push(&comm.WSMessage{Type: msgType, Data: data, SocketId: socketId})
}

func (b *Broker) publishError(msgType string, opErr error, socketId string) {
	data, err := json.Marshal(comm.ErrorResponse{
		Kind:    models.Kind(opErr),
		Message: opErr.Error(),
	})
	if err != nil {
		log.Errorf("unable to marshal error response: %s", err)
		return
	}

	b.push(&comm.WSMessage{Type: msgType + "-error", Data: data, SocketId: socketId})
}

func (b *Broker) push(msg *comm.WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(PushSubject, payload)
}

// QueueSubscribeRPC consumes battle commands; the queue group spreads
// load across battlesvc instances.
func (b *Broker) QueueSubscribeRPC(queueGroup string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(RPCSubject, queueGroup, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
