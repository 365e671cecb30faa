package broker

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/comm"
)

const (
	// RPCSubject carries battle commands to the battle service.
	RPCSubject = "battle.rpc"
	// PushSubject carries per-socket replies from the battle service.
	PushSubject = "socket.push"
	// EventWildcard matches every fanout subject.
	EventWildcard = "battle.events.>"
	eventPrefix   = "battle.events."
)

type Broker struct {
	Conn          *nats.Conn
	Send          func(socketId string, payload []byte) bool
	GetInterested func(key string) []string
}

func NewBroker(conn *nats.Conn, fncSend func(string, []byte) bool, fncGetInterested func(string) []string) *Broker {
	return &Broker{
		Conn:          conn,
		Send:          fncSend,
		GetInterested: fncGetInterested,
	}
}

// SubscribePush consumes command replies addressed to one socket.
func (b *Broker) SubscribePush() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(PushSubject, b.handlePush)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// SubscribeEvents consumes the battle fanout stream.
func (b *Broker) SubscribeEvents() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(EventWildcard, b.handleEvent)
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

// handlePush routes one battle service reply down its socket.
func (b *Broker) handlePush(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	err := json.Unmarshal(msgNats.Data, &message)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	if message.SocketId == "" {
		log.Warnf("push message %s without socket id", message.Type)
		return
	}

	if !b.Send(message.SocketId, msgNats.Data) {
		log.Infof("socket %s gone, dropping %s", message.SocketId, message.Type)
	}
}

// handleEvent fans one battle event out to every socket that watches
// the subject's user or session key. Best-effort: sockets that are gone
// or slow simply miss the event and reconcile later.
func (b *Broker) handleEvent(msgNats *nats.Msg) {
	key := strings.TrimPrefix(msgNats.Subject, eventPrefix)
	sockets := b.GetInterested(key)
	if len(sockets) == 0 {
		return
	}

	msg := &comm.WSMessage{
		Type: "battle-event",
		Data: msgNats.Data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	for _, socketId := range sockets {
		b.Send(socketId, payload)
	}
}
