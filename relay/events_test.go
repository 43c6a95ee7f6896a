package relay

import (
	"encoding/json"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"move","data":{"room":"AB12CD","move":{"from":"e2","to":"e4","promotion":null}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != EventMove {
		t.Fatalf("expected move, got %q", ev.Name)
	}
	var req MoveRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil {
		t.Fatal(err)
	}
	if req.Room != "AB12CD" {
		t.Fatalf("expected AB12CD, got %q", req.Room)
	}
	if string(req.Move) != `{"from":"e2","to":"e4","promotion":null}` {
		t.Fatalf("move payload not preserved: %s", req.Move)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	for _, frame := range []string{"", "not json", `{"data":1}`, `[]`} {
		if _, err := DecodeEvent([]byte(frame)); err == nil {
			t.Fatalf("expected error for %q", frame)
		}
	}
}

func TestSignalHasNoData(t *testing.T) {
	data, err := json.Marshal(signal(EventOpponentJoined))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"event":"opponentJoined"}` {
		t.Fatalf("unexpected frame %s", data)
	}
}

func TestErrorEventShape(t *testing.T) {
	data, err := json.Marshal(errorEvent(MsgRoomFull))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"event":"error","data":{"message":"Room is full"}}` {
		t.Fatalf("unexpected frame %s", data)
	}
}
