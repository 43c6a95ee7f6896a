package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open("sqlite", "  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind("UPDATE matches SET ended_at = ? WHERE id = ?")
	if got != "UPDATE matches SET ended_at = $1 WHERE id = $2" {
		t.Fatalf("unexpected query %q", got)
	}
	if q := (&Store{driver: "sqlite"}).rebind("SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite query must be unchanged, got %q", q)
	}
}

func TestBuildBatchQuery(t *testing.T) {
	q := buildBatchQuery(3)
	if strings.Count(q, "(?, ?, ?, ?, ?)") != 3 {
		t.Fatalf("expected 3 value tuples in %q", q)
	}
	if !strings.HasSuffix(q, "ON CONFLICT DO NOTHING") {
		t.Fatalf("expected conflict clause in %q", q)
	}
}

func TestMatchLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.InsertMatch(ctx, "match-1", "AB12CD", created); err != nil {
		t.Fatal(err)
	}
	m, err := store.Match(ctx, "match-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.RoomCode != "AB12CD" || !m.CreatedAt.Equal(created) {
		t.Fatalf("unexpected match %+v", m)
	}
	if !m.JoinedAt.IsZero() || !m.EndedAt.IsZero() {
		t.Fatalf("expected open match, got %+v", m)
	}

	joined := created.Add(time.Minute)
	ended := created.Add(time.Hour)
	if err := store.MarkJoined(ctx, "match-1", joined); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkEnded(ctx, "match-1", ended); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkEnded(ctx, "match-1", ended.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	m, err = store.Match(ctx, "match-1")
	if err != nil {
		t.Fatal(err)
	}
	if !m.JoinedAt.Equal(joined) {
		t.Fatalf("expected joined at %v, got %v", joined, m.JoinedAt)
	}
	if !m.EndedAt.Equal(ended) {
		t.Fatalf("expected first end time to stick, got %v", m.EndedAt)
	}
}

func TestMatchNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Match(context.Background(), "missing"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestLatestMatchPrefersNewest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.InsertMatch(ctx, "old", "AB12CD", first); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertMatch(ctx, "new", "AB12CD", first.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertMatch(ctx, "other", "ZZ99ZZ", first.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	m, err := store.LatestMatch(ctx, "AB12CD")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "new" {
		t.Fatalf("expected newest match, got %s", m.ID)
	}
	if _, err := store.LatestMatch(ctx, "NOPE00"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestInsertMovesBatchesAndOrders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	moves := make([]Move, 0, 120)
	for i := 120; i >= 1; i-- {
		moves = append(moves, Move{
			MatchID:   "match-1",
			Sequence:  i,
			Sender:    "white",
			Payload:   fmt.Sprintf(`"move-%d"`, i),
			CreatedAt: now,
		})
	}
	if err := store.InsertMoves(ctx, moves); err != nil {
		t.Fatal(err)
	}

	got, err := store.Moves(ctx, "match-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 120 {
		t.Fatalf("expected 120 moves, got %d", len(got))
	}
	for i, m := range got {
		if m.Sequence != i+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, m.Sequence)
		}
		if m.Payload != fmt.Sprintf(`"move-%d"`, i+1) {
			t.Fatalf("unexpected payload %q", m.Payload)
		}
	}
}

func TestInsertMovesSkipsDuplicateSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []Move{{MatchID: "match-1", Sequence: 1, Sender: "white", Payload: `"first"`, CreatedAt: time.Now()}}
	dup := []Move{{MatchID: "match-1", Sequence: 1, Sender: "black", Payload: `"duplicate"`, CreatedAt: time.Now()}}
	if err := store.InsertMoves(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertMoves(ctx, dup); err != nil {
		t.Fatal(err)
	}

	got, err := store.Moves(ctx, "match-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Payload != `"first"` {
		t.Fatalf("expected only the first row, got %+v", got)
	}
}
