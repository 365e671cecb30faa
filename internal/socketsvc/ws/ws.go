package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/comm"
	"github.com/arenahub/battle-services/internal/socketsvc/broker"
)

// client pairs a websocket connection with a write lock; replies and
// fanout events arrive from different NATS callbacks.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type Ws struct {
	connMap     sync.Map // socketId -> *client
	interestMap sync.Map // socketId -> map[string]struct{} of watch keys
	Broker      *broker.Broker
}

func NewWs() *Ws {
	return &Ws{}
}

// SocketMessage routes one message from a web client: watch/unwatch
// manage fanout interest locally, battle commands are forwarded to the
// battle service over NATS.
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case "watch":
		s.handleWatch(socketId, message, true)
	case "unwatch":
		s.handleWatch(socketId, message, false)
	case "create-battle", "join-battle", "report-result", "cancel-battle", "resume", "get-session":
		s.forward(socketId, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
	}
}

func (s *Ws) handleWatch(socketId string, msg *comm.WSMessage, add bool) {
	req := comm.WatchRequest{}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Errorf("Malformed watch payload %s", err)
		return
	}

	key := ""
	switch {
	case req.UserId != "":
		key = "user." + req.UserId
	case req.SessionId != "":
		key = "session." + req.SessionId
	default:
		log.Error("watch request names neither a user nor a session")
		return
	}

	if add {
		s.addInterest(socketId, key)
	} else {
		s.removeInterest(socketId, key)
	}
}

// forward stamps the socket id on a battle command and publishes it to
// the battle service.
func (s *Ws) forward(socketId string, msg *comm.WSMessage) {
	msg.SocketId = socketId

	bytes, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal WSMessage for NATS: %v", err)
		return
	}

	if err := s.Broker.Publish(broker.RPCSubject, bytes); err != nil {
		log.Errorf("Failed to publish to NATS topic %s: %v", broker.RPCSubject, err)
		return
	}

	log.Debugf("forwarded %s from socket %s", msg.Type, socketId)
}

// Interest maps are replaced wholesale on update; each socket's read
// loop is the only writer.
func (s *Ws) addInterest(socketId, key string) {
	next := map[string]struct{}{key: {}}
	if prev, ok := s.interestMap.Load(socketId); ok {
		for k := range prev.(map[string]struct{}) {
			next[k] = struct{}{}
		}
	}
	s.interestMap.Store(socketId, next)
}

func (s *Ws) removeInterest(socketId, key string) {
	prev, ok := s.interestMap.Load(socketId)
	if !ok {
		return
	}

	next := map[string]struct{}{}
	for k := range prev.(map[string]struct{}) {
		if k != key {
			next[k] = struct{}{}
		}
	}
	s.interestMap.Store(socketId, next)
}

// GetInterested returns the sockets watching key.
func (s *Ws) GetInterested(key string) []string {
	var sockets []string

	s.interestMap.Range(func(k, v interface{}) bool {
		if _, ok := v.(map[string]struct{})[key]; ok {
			sockets = append(sockets, k.(string))
		}
		return true
	})

	return sockets
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &client{conn: conn})
}

// Send writes payload to one socket; false when the socket is gone.
func (s *Ws) Send(socketId string, payload []byte) bool {
	v, ok := s.connMap.Load(socketId)
	if !ok {
		return false
	}

	if err := v.(*client).write(payload); err != nil {
		log.Errorf("write to socket %s failed: %v", socketId, err)
		return false
	}
	return true
}

func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
	s.interestMap.Delete(socketId)
}
