package game

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/payment"
	"github.com/musclefoot/musclefoot/internal/solana"
)

// Config holds the per-session settings and the loop cadences.
type Config struct {
	Payment          payment.Config
	QueueLimit       int
	FeedSize         int
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	DrainInterval    time.Duration
	BalanceInterval  time.Duration
}

// DefaultConfig returns the stock cadences with payments sent to receiver.
func DefaultConfig(receiver solana.PublicKey) Config {
	return Config{
		Payment:          payment.DefaultConfig(receiver),
		QueueLimit:       50,
		FeedSize:         100,
		TickInterval:     time.Second,
		AutosaveInterval: 30 * time.Second,
		DrainInterval:    60 * time.Second,
		BalanceInterval:  30 * time.Second,
	}
}

// Manager owns the live sessions and drives their periodic work.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[int64]*Session
	starts   singleflight.Group
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[int64]*Session),
	}
}

// Session returns the live session for id, creating and starting it on
// first use. Concurrent first requests share one start.
func (m *Manager) Session(ctx context.Context, id host.Identity) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id.ID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := m.starts.Do(strconv.FormatInt(id.ID, 10), func() (any, error) {
		m.mu.RLock()
		s, ok := m.sessions[id.ID]
		m.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := NewSession(id, m.cfg, m.deps)
		if err != nil {
			return nil, err
		}
		// The start is shared by every waiting caller and its result is kept,
		// so one caller going away must not cut the remote load short.
		if err := s.Start(context.WithoutCancel(ctx)); err != nil {
			s.Close()
			return nil, err
		}

		m.mu.Lock()
		m.sessions[id.ID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns the live session for a player ID without creating one.
func (m *Manager) Lookup(id int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by player ID.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id.ID < out[j].id.ID })
	return out
}

// Run drives the periodic loops until ctx is cancelled: energy ticks,
// autosave, queue drain with payment recheck, and balance refresh. Each
// loop runs its iterations back to back, so ticks never overlap; a save
// from a loop may race one from a request and the later write wins.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(ctx, m.cfg.TickInterval, func(ctx context.Context) {
			for _, s := range m.Sessions() {
				s.Tick(ctx)
			}
		})
	})
	g.Go(func() error {
		return every(ctx, m.cfg.AutosaveInterval, m.SaveAll)
	})
	g.Go(func() error {
		return every(ctx, m.cfg.DrainInterval, func(ctx context.Context) {
			for _, s := range m.Sessions() {
				s.Recheck(ctx)
			}
		})
	})
	g.Go(func() error {
		return every(ctx, m.cfg.BalanceInterval, func(ctx context.Context) {
			for _, s := range m.Sessions() {
				if !s.WalletConnected() {
					continue
				}
				if _, err := s.RefreshBalance(ctx); err != nil {
					s.logger.Debug("balance refresh failed", "err", err)
				}
			}
		})
	})

	m.logger.Info("game loops started",
		"tick", m.cfg.TickInterval.String(), "autosave", m.cfg.AutosaveInterval.String(),
		"drain", m.cfg.DrainInterval.String(), "balance", m.cfg.BalanceInterval.String())
	return g.Wait()
}

// SaveAll saves every live session.
func (m *Manager) SaveAll(ctx context.Context) {
	for _, s := range m.Sessions() {
		s.saveQuietly(ctx)
	}
}

// ConnectivityRestored drains every session's offline queue now.
func (m *Manager) ConnectivityRestored(ctx context.Context) (replayed, remaining int) {
	for _, s := range m.Sessions() {
		r, left := s.ConnectivityRestored(ctx)
		replayed += r
		remaining += left
	}
	return replayed, remaining
}

// Close saves and closes every session.
func (m *Manager) Close(ctx context.Context) {
	m.SaveAll(ctx)
	for _, s := range m.Sessions() {
		s.Close()
	}
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	if d <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn(ctx)
		}
	}
}
