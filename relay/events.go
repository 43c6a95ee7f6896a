package relay

import (
	"encoding/json"
	"fmt"
)

const (
	EventCreateRoom = "createRoom"
	EventJoinRoom   = "joinRoom"
	EventMove       = "move"

	EventRoomCreated          = "roomCreated"
	EventRoomJoined           = "roomJoined"
	EventOpponentJoined       = "opponentJoined"
	EventOpponentDisconnected = "opponentDisconnected"
	EventError                = "error"
)

const (
	MsgRoomNotFound  = "Room not found"
	MsgRoomFull      = "Room is full"
	MsgAtCapacity    = "Server is at capacity, try again"
	MsgAlreadySeated = "Already in a room"
)

// Event is one frame on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type RoomAssignment struct {
	RoomCode string `json:"roomCode"`
	Color    string `json:"color"`
}

// MoveRequest is what a player sends. Move is relayed byte for byte.
type MoveRequest struct {
	Room string          `json:"room"`
	Move json.RawMessage `json:"move"`
}

type MoveNotice struct {
	Move json.RawMessage `json:"move"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func NewEvent(name string, data any) (Event, error) {
	ev := Event{Name: name}
	if data == nil {
		return ev, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	ev.Data = raw
	return ev, nil
}

func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("decode event: missing event name")
	}
	return ev, nil
}

// signal builds a payload-less event.
func signal(name string) Event {
	return Event{Name: name}
}

func errorEvent(message string) Event {
	ev, _ := NewEvent(EventError, ErrorNotice{Message: message})
	return ev
}
