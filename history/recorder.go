package history

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KranzL/shipmates-oss/match-relay/room"
)

const (
	channelSize   = 1024
	flushInterval = 100 * time.Millisecond
	writeTimeout  = 5 * time.Second
)

type jobKind int

const (
	jobCreated jobKind = iota
	jobJoined
	jobMove
	jobEnded
)

type job struct {
	kind     jobKind
	matchID  string
	roomCode string
	at       time.Time
	move     Move
}

// Recorder queues match events onto per-match shards so one match is always
// written by the same worker, in the order it was recorded. A full shard
// drops the event rather than stall the relay.
type Recorder struct {
	store     *Store
	channels  []chan job
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	sequences sync.Map
	drops     atomic.Int64
	now       func() time.Time
}

func NewRecorder(store *Store, workers int) *Recorder {
	if workers < 1 {
		workers = 1
	}
	r := &Recorder{
		store:    store,
		channels: make([]chan job, workers),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	for i := range r.channels {
		r.channels[i] = make(chan job, channelSize)
		r.wg.Add(1)
		go r.worker(r.channels[i])
	}
	return r
}

func (r *Recorder) MatchCreated(s room.Session) {
	r.enqueue(job{kind: jobCreated, matchID: s.MatchID, roomCode: s.Code, at: s.CreatedAt})
}

func (r *Recorder) MatchJoined(s room.Session) {
	r.enqueue(job{kind: jobJoined, matchID: s.MatchID, at: s.JoinedAt})
}

func (r *Recorder) MoveRelayed(s room.Session, from room.Role, move json.RawMessage) {
	payload := string(move)
	if payload == "" {
		payload = "null"
	}
	r.enqueue(job{
		kind:    jobMove,
		matchID: s.MatchID,
		move: Move{
			MatchID:   s.MatchID,
			Sequence:  r.nextSequence(s.MatchID),
			Sender:    from.Color(),
			Payload:   payload,
			CreatedAt: r.now(),
		},
	})
}

func (r *Recorder) MatchEnded(s room.Session) {
	r.enqueue(job{kind: jobEnded, matchID: s.MatchID, at: r.now()})
	r.sequences.Delete(s.MatchID)
}

func (r *Recorder) nextSequence(matchID string) int {
	val, _ := r.sequences.LoadOrStore(matchID, &atomic.Int64{})
	return int(val.(*atomic.Int64).Add(1))
}

func (r *Recorder) Drops() int64 {
	return r.drops.Load()
}

func shardFor(matchID string, n int) int {
	hasher := fnv.New32a()
	hasher.Write([]byte(matchID))
	return int(hasher.Sum32() % uint32(n))
}

func (r *Recorder) enqueue(j job) {
	select {
	case <-r.done:
		return
	default:
	}
	ch := r.channels[shardFor(j.matchID, len(r.channels))]
	select {
	case ch <- j:
	default:
		dropped := r.drops.Add(1)
		log.Printf("history channel full, dropping event for match %s (total drops: %d)", j.matchID, dropped)
	}
}

func (r *Recorder) worker(ch chan job) {
	defer r.wg.Done()
	batch := make([]Move, 0, maxBatchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	handle := func(j job) {
		if j.kind == jobMove {
			batch = append(batch, j.move)
			if len(batch) >= maxBatchSize {
				r.flushMoves(batch)
				batch = batch[:0]
			}
			return
		}
		// lifecycle rows go out after any moves queued before them
		if len(batch) > 0 {
			r.flushMoves(batch)
			batch = batch[:0]
		}
		r.apply(j)
	}

	for {
		select {
		case j := <-ch:
			handle(j)
		case <-ticker.C:
			if len(batch) > 0 {
				r.flushMoves(batch)
				batch = batch[:0]
			}
		case <-r.done:
			for {
				select {
				case j := <-ch:
					handle(j)
				default:
					if len(batch) > 0 {
						r.flushMoves(batch)
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) flushMoves(batch []Move) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.InsertMoves(ctx, batch); err != nil {
		log.Printf("batch persist failed: %v", err)
	}
}

func (r *Recorder) apply(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobCreated:
		err = r.store.InsertMatch(ctx, j.matchID, j.roomCode, j.at)
	case jobJoined:
		err = r.store.MarkJoined(ctx, j.matchID, j.at)
	case jobEnded:
		err = r.store.MarkEnded(ctx, j.matchID, j.at)
	}
	if err != nil {
		log.Printf("persist match %s failed: %v", j.matchID, err)
	}
}

// Close stops accepting events, flushes what is queued and waits for the
// workers to exit.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
