package relay

import (
	"log"

	"github.com/KranzL/shipmates-oss/match-relay/room"
)

// Liveness answers whether a connection is still attached.
type Liveness interface {
	IsLive(id room.ConnID) bool
}

// Notifier delivers an event to one connection, dropping it if the
// connection is gone.
type Notifier interface {
	Notify(id room.ConnID, ev Event)
}

// Supervisor reacts to lost connections: it tells the remaining player and
// destroys rooms nobody live is left in. Losing a seat is final.
type Supervisor struct {
	registry *room.Registry
	live     Liveness
	notifier Notifier
	recorder Recorder
}

func NewSupervisor(registry *room.Registry, live Liveness, notifier Notifier, recorder Recorder) *Supervisor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Supervisor{
		registry: registry,
		live:     live,
		notifier: notifier,
		recorder: recorder,
	}
}

// ConnectionLost must be called after id has left the live set. Calling it
// again for the same id finds no seats and does nothing.
func (s *Supervisor) ConnectionLost(id room.ConnID) []room.Release {
	releases := s.registry.Release(id, s.live.IsLive)
	for _, rel := range releases {
		if rel.PeerLive {
			s.notifier.Notify(rel.Peer, signal(EventOpponentDisconnected))
		}
		if rel.Destroyed {
			s.recorder.MatchEnded(rel.Session)
			log.Printf("room deleted: %s", rel.Session.Code)
		}
	}
	return releases
}
