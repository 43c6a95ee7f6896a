// Package history keeps a durable record of matches and the moves relayed
// in them. Nothing on the relay path waits for it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const maxBatchSize = 50

var ErrMatchNotFound = errors.New("match not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		room_code TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		joined_at BIGINT,
		ended_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS match_moves (
		match_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		sender TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (match_id, sequence)
	)`,
}

type Match struct {
	ID        string
	RoomCode  string
	CreatedAt time.Time
	JoinedAt  time.Time
	EndedAt   time.Time
}

type Move struct {
	MatchID   string
	Sequence  int
	Sender    string
	Payload   string
	CreatedAt time.Time
}

type Store struct {
	db           *sql.DB
	driver       string
	batchQueries [maxBatchSize + 1]string
}

// Open connects to a postgres or sqlite database and creates the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("history dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	for i := 1; i <= maxBatchSize; i++ {
		s.batchQueries[i] = s.rebind(buildBatchQuery(i))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var builder strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteByte(query[i])
	}
	return builder.String()
}

func buildBatchQuery(size int) string {
	var builder strings.Builder
	builder.WriteString("INSERT INTO match_moves (match_id, sequence, sender, payload, created_at) VALUES ")
	for i := 0; i < size; i++ {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("(?, ?, ?, ?, ?)")
	}
	builder.WriteString(" ON CONFLICT DO NOTHING")
	return builder.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func (s *Store) InsertMatch(ctx context.Context, id, roomCode string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO matches (id, room_code, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING"),
		id, roomCode, toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (s *Store) MarkJoined(ctx context.Context, id string, joinedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE matches SET joined_at = ? WHERE id = ?"),
		toMillis(joinedAt), id)
	if err != nil {
		return fmt.Errorf("mark match joined: %w", err)
	}
	return nil
}

func (s *Store) MarkEnded(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE matches SET ended_at = ? WHERE id = ? AND ended_at IS NULL"),
		toMillis(endedAt), id)
	if err != nil {
		return fmt.Errorf("mark match ended: %w", err)
	}
	return nil
}

// InsertMoves writes moves in batches of up to 50 rows. Rows already stored
// under the same match and sequence are skipped.
func (s *Store) InsertMoves(ctx context.Context, moves []Move) error {
	for len(moves) > 0 {
		size := len(moves)
		if size > maxBatchSize {
			size = maxBatchSize
		}
		args := make([]any, 0, size*5)
		for _, m := range moves[:size] {
			args = append(args, m.MatchID, m.Sequence, m.Sender, m.Payload, toMillis(m.CreatedAt))
		}
		if _, err := s.db.ExecContext(ctx, s.batchQueries[size], args...); err != nil {
			return fmt.Errorf("insert moves: %w", err)
		}
		moves = moves[size:]
	}
	return nil
}

const matchColumns = "id, room_code, created_at, joined_at, ended_at"

func scanMatch(row *sql.Row) (Match, error) {
	var m Match
	var createdAt int64
	var joinedAt, endedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.RoomCode, &createdAt, &joinedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrMatchNotFound
	}
	if err != nil {
		return Match{}, fmt.Errorf("get match: %w", err)
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.JoinedAt = fromMillis(joinedAt)
	m.EndedAt = fromMillis(endedAt)
	return m, nil
}

func (s *Store) Match(ctx context.Context, id string) (Match, error) {
	return scanMatch(s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+matchColumns+" FROM matches WHERE id = ?"), id))
}

// LatestMatch returns the most recent match played under a room code. Codes
// are reused once a room is gone, so older matches may share it.
func (s *Store) LatestMatch(ctx context.Context, roomCode string) (Match, error) {
	return scanMatch(s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+matchColumns+" FROM matches WHERE room_code = ? ORDER BY created_at DESC LIMIT 1"), roomCode))
}

func (s *Store) Moves(ctx context.Context, matchID string) ([]Move, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT sequence, sender, payload, created_at FROM match_moves WHERE match_id = ? ORDER BY sequence ASC"),
		matchID)
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		m := Move{MatchID: matchID}
		var createdAt int64
		if err := rows.Scan(&m.Sequence, &m.Sender, &m.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	return moves, nil
}
