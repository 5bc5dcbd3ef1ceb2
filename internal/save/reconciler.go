package save

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/host"
)

// ErrNotFound is returned by a Remote that has no save for a player.
var ErrNotFound = errors.New("save not found")

// Remote is the remote save collaborator: a keyed full-row upsert and a
// point lookup.
type Remote interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, telegramID int64) (*Snapshot, error)
}

// Reconciler talks to the remote save on behalf of one or more players,
// queueing writes that fail and replaying them later.
type Reconciler struct {
	remote  Remote
	queue   *Queue
	clock   clock.Clock
	logger  *slog.Logger
	drainMu sync.Mutex
}

// NewReconciler creates a Reconciler writing to remote and queueing failures
// on queue.
func NewReconciler(remote Remote, queue *Queue, clk clock.Clock, logger *slog.Logger) *Reconciler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{remote: remote, queue: queue, clock: clk, logger: logger}
}

// Queue returns the pending-write queue.
func (r *Reconciler) Queue() *Queue {
	return r.queue
}

// Load fetches the remote save for id. Any failure, including a missing
// row, yields nil so the caller carries on with local state only.
func (r *Reconciler) Load(ctx context.Context, id host.Identity) *Snapshot {
	snap, err := r.remote.Load(ctx, id.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		r.logger.Warn("remote load failed, continuing local-only", "player", id.Key(), "err", err)
		return nil
	}
	return snap
}

// PersistRemote upserts snap. On failure the snapshot is queued for replay
// and the error returned; on success queued writes it supersedes are
// dropped and the rest of the queue is drained.
func (r *Reconciler) PersistRemote(ctx context.Context, snap Snapshot) error {
	if err := r.remote.Save(ctx, snap); err != nil {
		dropped := r.queue.Enqueue(snap, r.clock.Now())
		r.logger.Warn("remote save failed, queued",
			"player", snap.TelegramID, "queued", r.queue.Len(), "dropped", dropped, "err", err)
		return fmt.Errorf("saving player %d: %w", snap.TelegramID, err)
	}

	r.queue.Settle(snap)
	if r.queue.Len() > 0 {
		r.DrainQueue(ctx)
	}
	return nil
}

// DrainQueue replays every queued write in enqueue order. Writes that
// succeed are removed along with older writes they supersede; failures stay
// queued for the next attempt. Concurrent drains are serialized.
func (r *Reconciler) DrainQueue(ctx context.Context) (replayed, remaining int) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	var done []Snapshot
	for _, e := range r.queue.Entries() {
		if ctx.Err() != nil {
			break
		}
		if err := r.remote.Save(ctx, e.Payload); err != nil {
			r.logger.Debug("queued save replay failed", "player", e.Payload.TelegramID, "seq", e.Seq, "err", err)
			continue
		}
		done = append(done, e.Payload)
	}

	r.queue.Settle(done...)
	remaining = r.queue.Len()
	if len(done) > 0 {
		r.logger.Info("drained offline queue", "replayed", len(done), "queued", remaining)
	}
	return len(done), remaining
}

// ConnectivityRestored is the connectivity-restored signal: it drains the
// queue immediately.
func (r *Reconciler) ConnectivityRestored(ctx context.Context) (replayed, remaining int) {
	return r.DrainQueue(ctx)
}
