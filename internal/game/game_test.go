package game

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/notify"
	"github.com/musclefoot/musclefoot/internal/payment"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/remote"
	"github.com/musclefoot/musclefoot/internal/save"
	"github.com/musclefoot/musclefoot/internal/solana"
	"github.com/musclefoot/musclefoot/internal/solana/solanatest"
)

var (
	epoch  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	player = host.Identity{ID: 7, Name: "arnold"}
)

type env struct {
	srv     *solanatest.Server
	backend *remote.Memory
	cache   *cache.Memory
	clk     *clock.Sim
	cfg     Config
	deps    Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := solanatest.NewServer()
	t.Cleanup(srv.Close)

	e := &env{
		srv:     srv,
		backend: remote.NewMemory(),
		cache:   cache.NewMemory(),
		clk:     clock.NewFixed(epoch),
	}
	var receiver solana.PublicKey
	receiver[0] = 9
	e.cfg = DefaultConfig(receiver)
	e.cfg.Payment.PollAttempts = 3
	e.cfg.Payment.PollInterval = time.Microsecond
	e.deps = Deps{Cache: e.cache, Backend: e.backend, RPC: srv.Client(), Clock: e.clk}
	return e
}

func (e *env) start(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(player, e.cfg, e.deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestStartAdoptsRemoteProgress(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.backend.Save(context.Background(), save.Snapshot{
		TelegramID:       player.ID,
		MusclePoints:     500,
		Level:            rank.Influencer,
		CurrentEnergy:    0,
		LastTapTimestamp: epoch.Add(-time.Hour),
		WalletAddress:    "remote-wallet",
	}))

	s := e.start(t)
	v := s.View()
	assert.Equal(t, 500.0, v.State.Points)
	assert.Equal(t, rank.Influencer, v.State.Rank)
	assert.InDelta(t, 750.0/4, v.State.Energy, 1e-6)
	assert.Equal(t, "remote-wallet", v.State.WalletAddress)
	require.NotNil(t, v.State.Identity)
	assert.Equal(t, player, *v.State.Identity)
}

func TestStartOfflineKeepsLocalAndQueues(t *testing.T) {
	e := newEnv(t)
	e.backend.SetOffline(true)

	s := e.start(t)
	assert.Equal(t, 10, s.Tap(10))
	require.Error(t, s.Save(context.Background()))
	assert.Equal(t, 1, s.View().PendingWrites)

	e.backend.SetOffline(false)
	replayed, remaining := s.ConnectivityRestored(context.Background())
	assert.Equal(t, 1, replayed)
	assert.Zero(t, remaining)

	players := e.backend.Players()
	require.Len(t, players, 1)
	assert.InDelta(t, 0.01, players[0].MusclePoints, 1e-9)
}

func TestRestartDoesNotRestoreOfflineSpending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.backend.Save(ctx, save.Snapshot{
		TelegramID:       player.ID,
		MusclePoints:     10,
		Level:            rank.Beginner,
		LastTapTimestamp: epoch,
		UpdatedAt:        epoch.Add(-time.Hour),
	}))

	s := e.start(t)
	assert.Equal(t, 10.0, s.View().State.Points)

	e.backend.SetOffline(true)
	_, err := s.RankUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.View().PendingWrites)
	s.Close()

	e.backend.SetOffline(false)
	restarted := e.start(t)
	v := restarted.View()
	assert.Equal(t, 5.0, v.State.Points)
	assert.Equal(t, rank.GymRat, v.State.Rank)
	assert.Zero(t, v.PendingWrites)

	players := e.backend.Players()
	require.Len(t, players, 1)
	assert.Equal(t, 5.0, players[0].MusclePoints)
}

// readOnlyBackend serves loads but rejects every save.
type readOnlyBackend struct {
	*remote.Memory
}

func (readOnlyBackend) Save(context.Context, save.Snapshot) error {
	return remote.ErrUnavailable
}

func TestStartPrefersQueuedWriteOverStaleRemote(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.backend.Save(ctx, save.Snapshot{
		TelegramID:       player.ID,
		MusclePoints:     10,
		Level:            rank.Beginner,
		LastTapTimestamp: epoch,
		UpdatedAt:        epoch.Add(-time.Hour),
	}))
	e.deps.Backend = readOnlyBackend{e.backend}

	s := e.start(t)
	_, err := s.RankUp(ctx)
	require.NoError(t, err)
	s.Close()

	e.clk.Advance(time.Minute)
	restarted := e.start(t)
	v := restarted.View()
	assert.Equal(t, 5.0, v.State.Points)
	assert.Equal(t, rank.GymRat, v.State.Rank)
	assert.Equal(t, 1, v.PendingWrites, "write stays queued until the remote accepts it")
}

func TestManagerStartSurvivesCallerCancel(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.backend.Save(context.Background(), save.Snapshot{
		TelegramID:       player.ID,
		MusclePoints:     40,
		Level:            rank.GymRat,
		LastTapTimestamp: epoch,
		UpdatedAt:        epoch,
	}))
	m := NewManager(e.cfg, e.deps)
	t.Cleanup(func() { m.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := m.Session(ctx, player)
	require.NoError(t, err)

	v := s.View()
	assert.Equal(t, 40.0, v.State.Points)
	assert.Equal(t, rank.GymRat, v.State.Rank)
}

func TestStartRestoresCachedStateAndExpiresGodTier(t *testing.T) {
	e := newEnv(t)
	expired := epoch.Add(-time.Minute)
	st := progression.NewState(epoch.Add(-100 * 24 * time.Hour))
	st.Rank = rank.GodTier
	st.Points = 42
	st.GodTierExpiry = &expired
	require.NoError(t, cache.SetJSON(e.cache, "player:7:"+progression.CacheKey, st))

	s := e.start(t)
	v := s.View()
	assert.Equal(t, rank.Legend, v.State.Rank)
	assert.Equal(t, 42.0, v.State.Points)
	assert.Nil(t, v.State.GodTierExpiry)

	notes := s.Notifications(0)
	require.NotEmpty(t, notes)
	assert.Equal(t, "God tier expired", notes[len(notes)-1].Title)

	players := e.backend.Players()
	require.Len(t, players, 1)
	assert.Equal(t, rank.Legend, players[0].Level)
}

func TestTickRevertsGodTier(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)
	require.NoError(t, s.store.ApplyPaidUpgrade(rank.GodTier, true))
	assert.Equal(t, 100, s.View().GodTierDaysLeft)

	e.clk.Advance(rank.GodTierDuration - time.Hour)
	s.Tick(context.Background())
	assert.Equal(t, rank.GodTier, s.View().State.Rank)
	assert.Equal(t, 1, s.View().GodTierDaysLeft)

	e.clk.Advance(2 * time.Hour)
	s.Tick(context.Background())
	assert.Equal(t, rank.Legend, s.View().State.Rank)
}

func TestTapAfterGodTierExpiryNotifies(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)
	require.NoError(t, s.store.ApplyPaidUpgrade(rank.GodTier, true))

	e.clk.Advance(rank.GodTierDuration + time.Second)
	assert.Equal(t, 1, s.Tap(1))
	v := s.View()
	assert.Equal(t, rank.Legend, v.State.Rank)
	assert.InDelta(t, 0.75, v.State.Points, 1e-9)

	notes := s.Notifications(0)
	require.NotEmpty(t, notes)
	assert.Equal(t, "God tier expired", notes[len(notes)-1].Title)
}

func TestRankUpSavesAndCelebrates(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)
	st := s.store.Snapshot()
	st.Points = 6
	s.store.Adopt(st)

	lvl, err := s.RankUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rank.GymRat, lvl)
	assert.Equal(t, []host.Cue{host.CueSuccess}, s.Cues())
	assert.Equal(t, notify.KindCelebrate, s.Notifications(0)[0].Kind)

	players := e.backend.Players()
	require.Len(t, players, 1)
	assert.Equal(t, rank.GymRat, players[0].Level)
	assert.Equal(t, 1.0, players[0].MusclePoints)

	_, err = s.RankUp(context.Background())
	assert.ErrorIs(t, err, progression.ErrInsufficientFunds)
}

func TestWithdrawFlow(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)
	st := s.store.Snapshot()
	st.Points = 5000
	s.store.Adopt(st)

	_, err := s.Withdraw(context.Background(), 2000)
	assert.ErrorIs(t, err, progression.ErrWalletRequired)

	pk, err := s.GenerateWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pk.String(), s.View().State.WalletAddress)
	assert.Equal(t, progression.WalletGenerated, s.View().State.WalletKind)

	req, err := s.Withdraw(context.Background(), 2000)
	require.NoError(t, err)
	assert.Equal(t, 1800.0, req.NetAmount)
	assert.Equal(t, 3000.0, s.View().State.Points)

	e.backend.SetOffline(true)
	_, err = s.Withdraw(context.Background(), 1000)
	require.Error(t, err)
	assert.Equal(t, 3000.0, s.View().State.Points, "debit reverted when the record cannot be stored")
	e.backend.SetOffline(false)

	history, err := s.Withdrawals(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, req.ID, history[0].ID)
}

func TestPurchaseThroughSession(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)

	pk, err := s.GenerateWallet(context.Background())
	require.NoError(t, err)
	e.srv.SetBalance(pk, 5*solana.LamportsPerSOL)
	bal, err := s.RefreshBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", bal.String())

	out, err := s.Purchase(context.Background(), payment.TierUpgrade(rank.GymRat))
	require.NoError(t, err)
	assert.Equal(t, payment.StateSucceeded, out.State)
	assert.Equal(t, rank.GymRat, s.View().State.Rank)

	players := e.backend.Players()
	require.Len(t, players, 1)
	assert.Equal(t, rank.GymRat, players[0].Level, "paid upgrade is saved remotely")
}

func TestPurchaseParksUntilWalletImported(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)

	out, err := s.Purchase(context.Background(), payment.TierUpgrade(rank.GymRat))
	require.NoError(t, err)
	assert.Equal(t, payment.StateAwaitingConnection, out.State)

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 1
	var pk solana.PublicKey
	copy(pk[:], ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	e.srv.SetBalance(pk, solana.LamportsPerSOL)

	got, err := s.ImportWallet(context.Background(), hex.EncodeToString(seed))
	require.NoError(t, err)
	assert.Equal(t, pk, got)
	s.payments.Wait()

	assert.Equal(t, rank.GymRat, s.View().State.Rank)
	assert.Len(t, e.srv.Sent(), 1)

	_, resumed, err := s.ResumeAfterConnect(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestDisconnectWalletUnlinks(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)
	_, err := s.GenerateWallet(context.Background())
	require.NoError(t, err)

	secret, ok := s.ExportWallet()
	require.True(t, ok)

	require.NoError(t, s.DisconnectWallet(context.Background()))
	assert.False(t, s.WalletConnected())
	assert.Empty(t, s.View().State.WalletAddress)

	pk, err := s.ImportWallet(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, pk.String(), s.View().State.WalletAddress)
	assert.Equal(t, progression.WalletImported, s.View().State.WalletKind)
}

func TestViewNextRank(t *testing.T) {
	e := newEnv(t)
	s := e.start(t)

	v := s.View()
	require.NotNil(t, v.Next)
	assert.Equal(t, rank.GymRat, v.Next.Level)
	require.NotNil(t, v.Next.CostPoints)
	assert.Equal(t, 5.0, *v.Next.CostPoints)
	assert.Equal(t, "0.15", v.Next.CostSOL)
	assert.Zero(t, v.SecondsToFull)

	require.NoError(t, s.store.ApplyPaidUpgrade(rank.Legend, false))
	v = s.View()
	require.NotNil(t, v.Next)
	assert.True(t, v.Next.PaymentOnly)
	assert.Nil(t, v.Next.CostPoints)

	s.Tap(1)
	assert.InDelta(t, 7.5*8*3600/1500, s.View().SecondsToFull, 1e-6)
}

func TestManagerSharesSessions(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.cfg, e.deps)
	t.Cleanup(func() { m.Close(context.Background()) })

	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Session(context.Background(), player)
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Len(t, m.Sessions(), 1)
	_, ok := m.Lookup(player.ID)
	assert.True(t, ok)
}

func TestManagerRunAutosaves(t *testing.T) {
	e := newEnv(t)
	e.cfg.TickInterval = time.Millisecond
	e.cfg.AutosaveInterval = 2 * time.Millisecond
	e.cfg.DrainInterval = 2 * time.Millisecond
	e.cfg.BalanceInterval = 2 * time.Millisecond
	m := NewManager(e.cfg, e.deps)

	s, err := m.Session(context.Background(), player)
	require.NoError(t, err)
	s.Tap(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		players := e.backend.Players()
		return len(players) == 1 && players[0].MusclePoints > 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	m.Close(context.Background())
}
