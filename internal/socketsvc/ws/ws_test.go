package ws

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/arenahub/battle-services/internal/comm"
)

func watchMsg(t *testing.T, req comm.WatchRequest) *comm.WSMessage {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return &comm.WSMessage{Type: "watch", Data: data}
}

func TestWatchAndUnwatch(t *testing.T) {
	s := NewWs()

	s.SocketMessage("sock-1", watchMsg(t, comm.WatchRequest{UserId: "alice"}))
	s.SocketMessage("sock-1", watchMsg(t, comm.WatchRequest{SessionId: "s1"}))
	s.SocketMessage("sock-2", watchMsg(t, comm.WatchRequest{UserId: "alice"}))

	got := s.GetInterested("user.alice")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "sock-1" || got[1] != "sock-2" {
		t.Fatalf("user.alice watchers = %v", got)
	}

	if got := s.GetInterested("session.s1"); len(got) != 1 || got[0] != "sock-1" {
		t.Fatalf("session.s1 watchers = %v", got)
	}

	unwatch := watchMsg(t, comm.WatchRequest{UserId: "alice"})
	unwatch.Type = "unwatch"
	s.SocketMessage("sock-1", unwatch)

	if got := s.GetInterested("user.alice"); len(got) != 1 || got[0] != "sock-2" {
		t.Fatalf("user.alice watchers after unwatch = %v", got)
	}
	// the session watch survives the user unwatch
	if got := s.GetInterested("session.s1"); len(got) != 1 {
		t.Fatalf("session.s1 watchers after unwatch = %v", got)
	}
}

func TestDisconnectClearsInterest(t *testing.T) {
	s := NewWs()

	s.SocketMessage("sock-1", watchMsg(t, comm.WatchRequest{UserId: "alice"}))
	s.HandleDisconnect("sock-1")

	if got := s.GetInterested("user.alice"); len(got) != 0 {
		t.Fatalf("watchers survived disconnect: %v", got)
	}
}

func TestEmptyWatchRequestIgnored(t *testing.T) {
	s := NewWs()

	s.SocketMessage("sock-1", watchMsg(t, comm.WatchRequest{}))

	if got := s.GetInterested("user."); len(got) != 0 {
		t.Fatalf("empty watch registered interest: %v", got)
	}
}
