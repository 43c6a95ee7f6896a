package relay

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/KranzL/shipmates-oss/match-relay/room"
)

var ErrConnectionLimit = errors.New("max connections reached")

// Recorder observes match lifecycle and relayed moves. Implementations must
// not block; the gateway calls them inline, before the matching event is
// delivered.
type Recorder interface {
	MatchCreated(s room.Session)
	MatchJoined(s room.Session)
	MoveRelayed(s room.Session, from room.Role, move json.RawMessage)
	MatchEnded(s room.Session)
}

type nopRecorder struct{}

func (nopRecorder) MatchCreated(room.Session)                            {}
func (nopRecorder) MatchJoined(room.Session)                             {}
func (nopRecorder) MoveRelayed(room.Session, room.Role, json.RawMessage) {}
func (nopRecorder) MatchEnded(room.Session)                              {}

type Options struct {
	MaxConnections   int
	MaxPendingEvents int
	EventsPerSecond  float64
	EventBurst       int
	Recorder         Recorder
}

// Gateway owns the set of attached connections and routes their events to
// the registry. The live set doubles as the liveness oracle for the
// supervisor.
type Gateway struct {
	registry   *room.Registry
	supervisor *Supervisor
	recorder   Recorder
	opts       Options

	mu    sync.RWMutex
	conns map[room.ConnID]*Conn
}

func NewGateway(registry *room.Registry, opts Options) *Gateway {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	g := &Gateway{
		registry: registry,
		recorder: opts.Recorder,
		opts:     opts,
		conns:    make(map[room.ConnID]*Conn),
	}
	g.supervisor = NewSupervisor(registry, g, g, opts.Recorder)
	return g
}

// Attach registers a transport under a fresh identity and starts its writer.
func (g *Gateway) Attach(t Transport) (*Conn, error) {
	var limiter *rate.Limiter
	if g.opts.EventsPerSecond > 0 {
		burst := g.opts.EventBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), burst)
	}
	c := newConn(room.ConnID(uuid.NewString()), t, g.opts.MaxPendingEvents, limiter)

	g.mu.Lock()
	if g.opts.MaxConnections > 0 && len(g.conns) >= g.opts.MaxConnections {
		g.mu.Unlock()
		return nil, ErrConnectionLimit
	}
	g.conns[c.ID] = c
	g.mu.Unlock()

	go c.writeLoop()
	return c, nil
}

func (g *Gateway) IsLive(id room.ConnID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.conns[id]
	return ok
}

func (g *Gateway) conn(id room.ConnID) *Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[id]
}

// Notify queues ev for id. Unknown or closed connections are skipped; a
// client that has fallen too far behind is disconnected.
func (g *Gateway) Notify(id room.ConnID, ev Event) {
	c := g.conn(id)
	if c == nil {
		return
	}
	if err := c.enqueue(ev); err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			log.Printf("disconnecting slow consumer %s: %v", id, err)
			g.Disconnect(id)
		}
	}
}

// Disconnect detaches id and runs disconnect handling once. Later calls for
// the same id are no-ops.
func (g *Gateway) Disconnect(id room.ConnID) {
	g.mu.Lock()
	c, ok := g.conns[id]
	if ok {
		delete(g.conns, id)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	c.Close()
	g.supervisor.ConnectionLost(id)
}

// Shutdown disconnects every attached connection.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	ids := make([]room.ConnID, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.Disconnect(id)
	}
}

// Handle dispatches one inbound event from id.
func (g *Gateway) Handle(id room.ConnID, ev Event) {
	c := g.conn(id)
	if c == nil {
		return
	}
	// over-rate senders are cut off; an open connection never loses events
	if !c.allow() {
		log.Printf("disconnecting %s: event rate exceeded on %s", id, ev.Name)
		g.Disconnect(id)
		return
	}

	switch ev.Name {
	case EventCreateRoom:
		g.handleCreate(id)
	case EventJoinRoom:
		g.handleJoin(id, ev.Data)
	case EventMove:
		g.handleMove(id, ev.Data)
	default:
		log.Printf("ignoring unknown event %q from %s", ev.Name, id)
	}
}

func (g *Gateway) handleCreate(id room.ConnID) {
	sess, err := g.registry.Create(id)
	if err != nil {
		log.Printf("create room for %s failed: %v", id, err)
		g.Notify(id, errorEvent(errorMessage(err)))
		return
	}
	if g.releaseIfGone(id) {
		return
	}

	ev, err := NewEvent(EventRoomCreated, RoomAssignment{RoomCode: sess.Code, Color: room.RoleFirst.Color()})
	if err != nil {
		log.Printf("build %s: %v", EventRoomCreated, err)
		return
	}
	g.recorder.MatchCreated(sess)
	g.Notify(id, ev)
	log.Printf("room created: %s", sess.Code)
}

func (g *Gateway) handleJoin(id room.ConnID, data json.RawMessage) {
	var code string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &code); err != nil {
			log.Printf("malformed %s payload from %s: %v", EventJoinRoom, id, err)
			g.Notify(id, errorEvent(MsgRoomNotFound))
			return
		}
	}

	code = room.NormalizeCode(code)
	if !room.ValidCode(code) {
		g.Notify(id, errorEvent(MsgRoomNotFound))
		return
	}

	sess, err := g.registry.Join(code, id)
	if err != nil {
		g.Notify(id, errorEvent(errorMessage(err)))
		return
	}

	g.recorder.MatchJoined(sess)
	ev, err := NewEvent(EventRoomJoined, RoomAssignment{RoomCode: sess.Code, Color: room.RoleSecond.Color()})
	if err != nil {
		log.Printf("build %s: %v", EventRoomJoined, err)
	} else {
		g.Notify(id, ev)
	}
	// the creator always hears about the join before any disconnect notice
	g.Notify(sess.First, signal(EventOpponentJoined))
	if g.releaseIfGone(id) {
		return
	}
	log.Printf("player joined room: %s", sess.Code)
}

// releaseIfGone covers a disconnect that raced with seating id: the
// supervisor already ran and found no seat, so it has to run again.
func (g *Gateway) releaseIfGone(id room.ConnID) bool {
	if g.IsLive(id) {
		return false
	}
	g.supervisor.ConnectionLost(id)
	return true
}

// handleMove forwards the move to the other player only. Moves for rooms
// the sender does not sit in, or whose other player is gone, are dropped
// without a reply and never recorded.
func (g *Gateway) handleMove(id room.ConnID, data json.RawMessage) {
	var req MoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("dropping malformed move from %s: %v", id, err)
		return
	}

	sess, peer, err := g.registry.Peer(req.Room, id)
	if err != nil {
		log.Printf("dropping move from %s for room %q: %v", id, req.Room, err)
		return
	}
	if peer == "" || !g.IsLive(peer) {
		return
	}

	ev, err := NewEvent(EventMove, MoveNotice{Move: req.Move})
	if err != nil {
		log.Printf("dropping move from %s: %v", id, err)
		return
	}
	role, _ := sess.RoleOf(id)
	g.recorder.MoveRelayed(sess, role, req.Move)
	g.Notify(peer, ev)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return MsgRoomNotFound
	case errors.Is(err, room.ErrFull):
		return MsgRoomFull
	case errors.Is(err, room.ErrAlreadySeated):
		return MsgAlreadySeated
	}
	return MsgAtCapacity
}

func (g *Gateway) ActiveConnections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) Rooms() int {
	return g.registry.Len()
}
