package remote

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/musclefoot/musclefoot/internal/save"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

// ErrUnavailable is returned by a Memory store that has been taken offline.
var ErrUnavailable = errors.New("remote store unavailable")

// Memory is an in-process remote store used when no database is configured
// and in tests. It can be switched offline to exercise the queueing path.
type Memory struct {
	mu          sync.RWMutex
	players     map[int64]save.Snapshot
	withdrawals map[int64][]withdrawal.Request
	offline     bool
}

// NewMemory creates an empty in-memory remote store.
func NewMemory() *Memory {
	return &Memory{
		players:     make(map[int64]save.Snapshot),
		withdrawals: make(map[int64][]withdrawal.Request),
	}
}

// SetOffline makes every call fail with ErrUnavailable while offline is true.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// availableLocked fails like a database connection would: on a cancelled
// context or while offline.
func (m *Memory) availableLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return ErrUnavailable
	}
	return nil
}

// Save implements save.Remote.
func (m *Memory) Save(ctx context.Context, snap save.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return err
	}
	if prev, ok := m.players[snap.TelegramID]; ok {
		snap.HighScore = math.Max(prev.HighScore, snap.HighScore)
	}
	m.players[snap.TelegramID] = snap
	return nil
}

// Load implements save.Remote.
func (m *Memory) Load(ctx context.Context, telegramID int64) (*save.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	snap, ok := m.players[telegramID]
	if !ok {
		return nil, save.ErrNotFound
	}
	return &snap, nil
}

// Insert appends a withdrawal record.
func (m *Memory) Insert(ctx context.Context, req withdrawal.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return err
	}
	m.withdrawals[req.Identity.ID] = append(m.withdrawals[req.Identity.ID], req)
	return nil
}

// ListByIdentity returns the player's withdrawals, newest first.
func (m *Memory) ListByIdentity(ctx context.Context, telegramID int64) ([]withdrawal.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	reqs := m.withdrawals[telegramID]
	out := make([]withdrawal.Request, len(reqs))
	copy(out, reqs)
	// Reverse first so requests created in the same instant list newest-inserted first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Players returns every stored save, ordered by player ID.
func (m *Memory) Players() []save.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]save.Snapshot, 0, len(m.players))
	for _, s := range m.players {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out
}
