package broker

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/arenahub/battle-services/internal/comm"
)

type fakeEdge struct {
	sent      map[string][][]byte
	interests map[string][]string
}

func newFakeEdge() *fakeEdge {
	return &fakeEdge{
		sent:      make(map[string][][]byte),
		interests: make(map[string][]string),
	}
}

func (f *fakeEdge) send(socketId string, payload []byte) bool {
	f.sent[socketId] = append(f.sent[socketId], payload)
	return true
}

func (f *fakeEdge) interested(key string) []string {
	return f.interests[key]
}

func newTestBroker(edge *fakeEdge) *Broker {
	return NewBroker(nil, edge.send, edge.interested)
}

func TestHandlePushRoutesBySocketId(t *testing.T) {
	edge := newFakeEdge()
	b := newTestBroker(edge)

	msg := comm.WSMessage{Type: "join-battle-response", SocketId: "sock-1"}
	raw, _ := json.Marshal(msg)
	b.handlePush(&nats.Msg{Subject: PushSubject, Data: raw})

	if len(edge.sent["sock-1"]) != 1 {
		t.Fatalf("socket sock-1 got %d messages, want 1", len(edge.sent["sock-1"]))
	}
}

func TestHandlePushWithoutSocketIdIsDropped(t *testing.T) {
	edge := newFakeEdge()
	b := newTestBroker(edge)

	raw, _ := json.Marshal(comm.WSMessage{Type: "resume-response"})
	b.handlePush(&nats.Msg{Subject: PushSubject, Data: raw})

	if len(edge.sent) != 0 {
		t.Fatalf("message without socket id was delivered")
	}
}

func TestHandleEventFansOutToInterestedSockets(t *testing.T) {
	edge := newFakeEdge()
	edge.interests["user.alice"] = []string{"sock-1", "sock-2"}
	b := newTestBroker(edge)

	payload := []byte(`{"session_id":"s1","status":"active"}`)
	b.handleEvent(&nats.Msg{Subject: "battle.events.user.alice", Data: payload})

	for _, sock := range []string{"sock-1", "sock-2"} {
		msgs := edge.sent[sock]
		if len(msgs) != 1 {
			t.Fatalf("socket %s got %d messages, want 1", sock, len(msgs))
		}

		wrapped := comm.WSMessage{}
		if err := json.Unmarshal(msgs[0], &wrapped); err != nil {
			t.Fatalf("unmarshal wrapped event: %v", err)
		}
		if wrapped.Type != "battle-event" {
			t.Fatalf("type = %s, want battle-event", wrapped.Type)
		}
		if string(wrapped.Data) != string(payload) {
			t.Fatalf("event payload altered in transit")
		}
	}
}

func TestHandleEventWithNoWatchersIsCheap(t *testing.T) {
	edge := newFakeEdge()
	b := newTestBroker(edge)

	b.handleEvent(&nats.Msg{Subject: "battle.events.session.s9", Data: []byte(`{}`)})

	if len(edge.sent) != 0 {
		t.Fatalf("event without watchers was delivered")
	}
}
