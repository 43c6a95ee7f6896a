package relay

import (
	"sync"
	"testing"

	"github.com/KranzL/shipmates-oss/match-relay/room"
)

type staticLiveness map[room.ConnID]bool

func (s staticLiveness) IsLive(id room.ConnID) bool {
	return s[id]
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent map[room.ConnID][]string
}

func (n *capturingNotifier) Notify(id room.ConnID, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[room.ConnID][]string)
	}
	n.sent[id] = append(n.sent[id], ev.Name)
}

func TestSupervisorSoleOccupantLost(t *testing.T) {
	reg := room.NewRegistry(nil)
	sess, _ := reg.Create("a")
	notifier := &capturingNotifier{}
	rec := &memoryRecorder{}
	sup := NewSupervisor(reg, staticLiveness{}, notifier, rec)

	rels := sup.ConnectionLost("a")
	if len(rels) != 1 || !rels[0].Destroyed {
		t.Fatalf("expected destroyed room, got %+v", rels)
	}
	if _, ok := reg.Lookup(sess.Code); ok {
		t.Fatal("expected room removed from registry")
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no notifications, got %v", notifier.sent)
	}
	if len(rec.ended) != 1 || rec.ended[0] != sess.Code {
		t.Fatalf("expected match end recorded, got %v", rec.ended)
	}
}

func TestSupervisorNotifiesLivePeer(t *testing.T) {
	reg := room.NewRegistry(nil)
	sess, _ := reg.Create("a")
	reg.Join(sess.Code, "b")
	notifier := &capturingNotifier{}
	live := staticLiveness{"b": true}
	sup := NewSupervisor(reg, live, notifier, nil)

	sup.ConnectionLost("a")
	if got := notifier.sent["b"]; len(got) != 1 || got[0] != EventOpponentDisconnected {
		t.Fatalf("expected one opponentDisconnected to b, got %v", got)
	}
	if _, ok := reg.Lookup(sess.Code); !ok {
		t.Fatal("room must survive while b is live")
	}

	sup.ConnectionLost("a")
	if got := notifier.sent["b"]; len(got) != 1 {
		t.Fatalf("duplicate loss must not notify again, got %v", got)
	}

	delete(live, "b")
	rels := sup.ConnectionLost("b")
	if len(rels) != 1 || !rels[0].Destroyed {
		t.Fatalf("expected room destroyed on last loss, got %+v", rels)
	}
	if _, err := reg.Join(sess.Code, "c"); err != room.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSupervisorSkipsDeadPeer(t *testing.T) {
	reg := room.NewRegistry(nil)
	sess, _ := reg.Create("a")
	reg.Join(sess.Code, "b")
	notifier := &capturingNotifier{}
	sup := NewSupervisor(reg, staticLiveness{}, notifier, nil)

	rels := sup.ConnectionLost("b")
	if len(rels) != 1 || !rels[0].Destroyed {
		t.Fatalf("expected destroy when no occupant is live, got %+v", rels)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("dead peer must not be notified, got %v", notifier.sent)
	}
}

func TestSupervisorUnknownConnection(t *testing.T) {
	reg := room.NewRegistry(nil)
	reg.Create("a")
	sup := NewSupervisor(reg, staticLiveness{"a": true}, &capturingNotifier{}, nil)
	if rels := sup.ConnectionLost("stranger"); len(rels) != 0 {
		t.Fatalf("expected nothing to release, got %+v", rels)
	}
	if reg.Len() != 1 {
		t.Fatal("unrelated room must survive")
	}
}
