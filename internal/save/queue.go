package save

import (
	"log/slog"
	"sync"
	"time"

	"github.com/musclefoot/musclefoot/internal/cache"
)

const (
	// QueueKey is the cache key holding the pending-write queue.
	QueueKey = "mf-offline-queue"
	// DefaultQueueLimit bounds the queue; the oldest entries are dropped
	// beyond it.
	DefaultQueueLimit = 50
)

// PendingWrite is a remote write that failed and awaits replay.
type PendingWrite struct {
	Seq        int64     `json:"seq"`
	Payload    Snapshot  `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the capped, cache-backed list of pending writes in enqueue order.
type Queue struct {
	mu      sync.Mutex
	cache   cache.Cache
	limit   int
	entries []PendingWrite
	nextSeq int64
	logger  *slog.Logger
}

// NewQueue creates a queue backed by c and restores any entries already
// cached. A zero limit uses DefaultQueueLimit.
func NewQueue(c cache.Cache, limit int, logger *slog.Logger) *Queue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{cache: c, limit: limit, logger: logger}
	if c != nil {
		var stored []PendingWrite
		if _, err := cache.GetJSON(c, QueueKey, &stored); err != nil {
			logger.Warn("discarding unreadable offline queue", "err", err)
		}
		q.entries = stored
		for _, e := range stored {
			if e.Seq >= q.nextSeq {
				q.nextSeq = e.Seq + 1
			}
		}
		q.trimLocked()
	}
	return q
}

// Enqueue appends a pending write for snap. It returns how many of the
// oldest entries were dropped to respect the cap.
func (q *Queue) Enqueue(snap Snapshot, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, PendingWrite{Seq: q.nextSeq, Payload: snap, EnqueuedAt: now})
	q.nextSeq++
	dropped := q.trimLocked()
	q.persistLocked()
	return dropped
}

// Entries returns a copy of the queued writes in enqueue order.
func (q *Queue) Entries() []PendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingWrite, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of queued writes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Latest returns the most recently queued write for a player, or nil.
func (q *Queue) Latest(telegramID int64) *Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.entries) - 1; i >= 0; i-- {
		if q.entries[i].Payload.TelegramID == telegramID {
			snap := q.entries[i].Payload
			return &snap
		}
	}
	return nil
}

// Settle removes every entry made redundant by a successful remote write of
// done: the write itself and any older write for the same player, since a
// full-row upsert supersedes them.
func (q *Queue) Settle(done ...Snapshot) int {
	if len(done) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0:0]
	for _, e := range q.entries {
		if !supersededBy(e.Payload, done) {
			kept = append(kept, e)
		}
	}
	removed := len(q.entries) - len(kept)
	if removed > 0 {
		q.entries = kept
		q.persistLocked()
	}
	return removed
}

func supersededBy(p Snapshot, done []Snapshot) bool {
	for _, d := range done {
		if p.TelegramID == d.TelegramID && !p.UpdatedAt.After(d.UpdatedAt) {
			return true
		}
	}
	return false
}

func (q *Queue) trimLocked() int {
	over := len(q.entries) - q.limit
	if over <= 0 {
		return 0
	}
	q.entries = append([]PendingWrite(nil), q.entries[over:]...)
	return over
}

func (q *Queue) persistLocked() {
	if q.cache == nil {
		return
	}
	var err error
	if len(q.entries) == 0 {
		err = q.cache.Remove(QueueKey)
	} else {
		err = cache.SetJSON(q.cache, QueueKey, q.entries)
	}
	if err != nil {
		q.logger.Error("persisting offline queue failed", "err", err, "queued", len(q.entries))
	}
}
