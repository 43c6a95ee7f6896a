package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const MaxCodeAttempts = 10

var (
	ErrNotFound          = errors.New("room not found")
	ErrFull              = errors.New("room is full")
	ErrCapacityExhausted = errors.New("no free room code")
	ErrAlreadySeated     = errors.New("connection already in a room")
	ErrNotOccupant       = errors.New("connection is not in this room")
)

// ConnID identifies one transport connection for its lifetime. IDs are never
// reused, so a reconnecting client is a new participant.
type ConnID string

type Role int

const (
	RoleFirst Role = iota + 1
	RoleSecond
)

func (r Role) String() string {
	switch r {
	case RoleFirst:
		return "first"
	case RoleSecond:
		return "second"
	}
	return "unknown"
}

// Color is the label clients see for a role.
func (r Role) Color() string {
	switch r {
	case RoleFirst:
		return "white"
	case RoleSecond:
		return "black"
	}
	return ""
}

// Session is a snapshot of one room. Registry methods return copies, so
// holding a Session never blocks or races with the registry.
type Session struct {
	Code      string
	MatchID   string
	First     ConnID
	Second    ConnID
	CreatedAt time.Time
	JoinedAt  time.Time
}

func (s Session) Full() bool {
	return s.First != "" && s.Second != ""
}

func (s Session) RoleOf(conn ConnID) (Role, bool) {
	switch {
	case conn == "":
		return 0, false
	case s.First == conn:
		return RoleFirst, true
	case s.Second == conn:
		return RoleSecond, true
	}
	return 0, false
}

// Other returns the occupant that is not conn, or "" when the other slot
// is empty.
func (s Session) Other(conn ConnID) ConnID {
	if s.First == conn {
		return s.Second
	}
	return s.First
}

// Release describes what happened to one room when a connection was lost.
type Release struct {
	Session   Session
	Peer      ConnID
	PeerLive  bool
	Destroyed bool
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[ConnID]string
	gen      Generator
	now      func() time.Time
}

func NewRegistry(gen Generator) *Registry {
	if gen == nil {
		gen = RandomGenerator{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[ConnID]string),
		gen:      gen,
		now:      time.Now,
	}
}

func (r *Registry) Create(conn ConnID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seated := r.byConn[conn]; seated {
		return Session{}, ErrAlreadySeated
	}

	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := r.gen.Generate()
		if err != nil {
			return Session{}, fmt.Errorf("generate room code: %w", err)
		}
		code = NormalizeCode(code)
		if _, taken := r.sessions[code]; taken {
			continue
		}
		sess := &Session{
			Code:      code,
			MatchID:   uuid.NewString(),
			First:     conn,
			CreatedAt: r.now(),
		}
		r.sessions[code] = sess
		r.byConn[conn] = code
		return *sess, nil
	}
	return Session{}, ErrCapacityExhausted
}

func (r *Registry) Join(code string, conn ConnID) (Session, error) {
	code = NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[code]
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.Full() {
		return Session{}, ErrFull
	}
	if _, seated := r.byConn[conn]; seated {
		return Session{}, ErrAlreadySeated
	}
	sess.Second = conn
	sess.JoinedAt = r.now()
	r.byConn[conn] = code
	return *sess, nil
}

func (r *Registry) Lookup(code string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[NormalizeCode(code)]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Peer authorizes conn against the room and returns the other occupant,
// which is "" until someone joins.
func (r *Registry) Peer(code string, conn ConnID) (Session, ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[NormalizeCode(code)]
	if !ok {
		return Session{}, "", ErrNotFound
	}
	if _, ok := sess.RoleOf(conn); !ok {
		return Session{}, "", ErrNotOccupant
	}
	return *sess, sess.Other(conn), nil
}

// SessionsOf returns the codes of rooms conn still holds a live seat in.
// A well-behaved client holds at most one.
func (r *Registry) SessionsOf(conn ConnID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsOfLocked(conn)
}

func (r *Registry) sessionsOfLocked(conn ConnID) []string {
	code, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	if _, exists := r.sessions[code]; !exists {
		delete(r.byConn, conn)
		return nil
	}
	return []string{code}
}

// Remove deletes the room and its index entries. Removing an absent room is
// a no-op.
func (r *Registry) Remove(code string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(NormalizeCode(code))
}

func (r *Registry) removeLocked(code string) (Session, bool) {
	sess, ok := r.sessions[code]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, code)
	for _, conn := range []ConnID{sess.First, sess.Second} {
		if conn != "" && r.byConn[conn] == code {
			delete(r.byConn, conn)
		}
	}
	return *sess, true
}

// Vacate forgets conn's seat without freeing its slot. Slots are never
// refilled, so a room that lost a player stays full.
func (r *Registry) Vacate(code string, conn ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vacateLocked(NormalizeCode(code), conn)
}

func (r *Registry) vacateLocked(code string, conn ConnID) {
	if r.byConn[conn] == code {
		delete(r.byConn, conn)
	}
}

// Release handles the loss of conn for every room it sits in. Each room is
// destroyed when no occupant other than conn is live according to live, and
// vacated otherwise. The decision is taken under the registry lock so it
// cannot interleave with a concurrent Join on the same room.
func (r *Registry) Release(conn ConnID, live func(ConnID) bool) []Release {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := r.sessionsOfLocked(conn)
	releases := make([]Release, 0, len(codes))
	for _, code := range codes {
		sess := r.sessions[code]
		rel := Release{Session: *sess, Peer: sess.Other(conn)}
		if rel.Peer != "" && rel.Peer != conn && live != nil {
			rel.PeerLive = live(rel.Peer)
		}
		if rel.PeerLive {
			r.vacateLocked(code, conn)
		} else {
			r.removeLocked(code)
			rel.Destroyed = true
		}
		releases = append(releases, rel)
	}
	return releases
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
