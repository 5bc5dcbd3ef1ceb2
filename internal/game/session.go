// Package game wires one player's progression, saves, wallet, payments and
// withdrawals into a Session, and runs the periodic loops for all sessions.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/energy"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/ledger"
	"github.com/musclefoot/musclefoot/internal/notify"
	"github.com/musclefoot/musclefoot/internal/payment"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/save"
	"github.com/musclefoot/musclefoot/internal/solana"
	"github.com/musclefoot/musclefoot/internal/wallet"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

// Backend is the remote persistence a session needs: the save row and the
// withdrawal records.
type Backend interface {
	save.Remote
	ledger.Records
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Cache   cache.Cache // each session works under its own key prefix
	Backend Backend
	RPC     payment.RPC
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Session is one player's game.
type Session struct {
	id       host.Identity
	store    *progression.Store
	saves    *save.Reconciler
	payments *payment.Coordinator
	ledger   *ledger.Ledger
	wallet   *wallet.Keypair
	feed     *notify.Feed
	haptics  *host.CueRecorder
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSession builds the session for id. Call Start before use.
func NewSession(id host.Identity, cfg Config, deps Deps) (*Session, error) {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("player", id.Key())

	base := deps.Cache
	if base == nil {
		base = cache.NewMemory()
	}
	scoped := cache.WithPrefix(base, "player:"+id.Key()+":")

	keys, err := wallet.NewKeypair(scoped)
	if err != nil {
		return nil, fmt.Errorf("restoring wallet for player %s: %w", id.Key(), err)
	}

	if cfg.FeedSize <= 0 {
		cfg.FeedSize = 100
	}
	s := &Session{
		id:      id,
		store:   progression.NewStore(scoped, clk, logger),
		wallet:  keys,
		feed:    notify.NewFeed(cfg.FeedSize),
		haptics: host.NewCueRecorder(cfg.FeedSize),
		clock:   clk,
		logger:  logger,
	}
	s.saves = save.NewReconciler(deps.Backend, save.NewQueue(scoped, cfg.QueueLimit, logger), clk, logger)
	s.ledger = ledger.New(s.store, deps.Backend, logger)
	s.payments = payment.NewCoordinator(cfg.Payment, payment.Deps{
		RPC:         deps.RPC,
		Wallet:      keys,
		Progression: s.store,
		Notifier:    s.feed,
		Haptics:     s.haptics,
		Clock:       clk,
		Cache:       scoped,
		Logger:      logger,
	})
	s.payments.OnSettled = func(payment.Purchase) { s.saveQuietly(context.Background()) }
	return s, nil
}

// Identity returns the player identity.
func (s *Session) Identity() host.Identity {
	return s.id
}

// Start restores the cached state, replays queued writes, reconciles the
// state with the remote save (or with a queued write newer than it), applies
// any god-tier expiry and re-checks payments whose confirmation timed out.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.store.Load(); err != nil {
		s.logger.Warn("cached state unreadable, starting fresh", "err", err)
	}
	s.store.SetIdentity(s.id)

	// Writes queued before a restart go out first so the remote row already
	// reflects offline spending when it is merged.
	s.saves.DrainQueue(ctx)
	remote := s.saves.Load(ctx, s.id)
	loaded := remote != nil
	if queued := s.saves.Queue().Latest(s.id.ID); queued != nil && (remote == nil || queued.UpdatedAt.After(remote.UpdatedAt)) {
		remote = queued
	}
	merged := save.Reconcile(s.store.Snapshot(), remote, s.clock.Now())
	id := s.id
	merged.Identity = &id
	s.store.Adopt(merged)

	if pk, ok := s.wallet.PublicKey(); ok && merged.WalletAddress == "" {
		if err := s.store.LinkWallet(pk.String(), progression.WalletGenerated); err != nil {
			return err
		}
	}

	if s.store.CheckGodTierExpiry(s.clock.Now()) {
		s.godTierExpired(ctx)
	}
	s.Recheck(ctx)

	st := s.store.Snapshot()
	s.logger.Info("session started", "rank", st.Rank.String(), "points", st.Points, "remote", loaded)
	return nil
}

// Close stops in-flight payment confirmation.
func (s *Session) Close() {
	s.payments.Close()
}

// Tap applies up to n taps and returns how many were accepted.
func (s *Session) Tap(n int) int {
	if n <= 0 {
		n = 1
	}
	if s.store.CheckGodTierExpiry(s.clock.Now()) {
		s.godTierExpired(context.Background())
	}
	accepted := s.store.TapN(n)
	if accepted > 0 {
		s.haptics.Vibrate(host.CueTap)
	}
	return accepted
}

// RankUp buys the next rank with points.
func (s *Session) RankUp(ctx context.Context) (rank.Level, error) {
	lvl, err := s.store.RankUpWithPoints()
	if err != nil {
		return lvl, err
	}
	s.feed.Notify(notify.Notification{Kind: notify.KindCelebrate, Title: "Rank up!", Message: "You are now " + lvl.String() + "."})
	s.haptics.Vibrate(host.CueSuccess)
	s.saveQuietly(ctx)
	return lvl, nil
}

// Purchase pays for p on chain.
func (s *Session) Purchase(ctx context.Context, p payment.Purchase) (payment.Outcome, error) {
	return s.payments.Purchase(ctx, p)
}

// ResumeAfterConnect runs the purchase parked while the wallet was
// disconnected, if any.
func (s *Session) ResumeAfterConnect(ctx context.Context) (payment.Outcome, bool, error) {
	return s.payments.ResumePending(ctx)
}

// QuoteWithdrawal prices a withdrawal without applying it.
func (s *Session) QuoteWithdrawal(amount float64) (withdrawal.Quote, error) {
	return s.store.QuoteWithdrawal(amount)
}

// Withdraw submits a withdrawal of amount points.
func (s *Session) Withdraw(ctx context.Context, amount float64) (withdrawal.Request, error) {
	req, err := s.ledger.Submit(ctx, amount)
	if err != nil {
		return req, err
	}
	s.feed.Notify(notify.Notification{Kind: notify.KindSuccess, Title: "Withdrawal requested",
		Message: fmt.Sprintf("%s $MUSCLEFOOT will be sent to your wallet (%s).",
			decimal.NewFromFloat(req.NetAmount).String(), s.store.Snapshot().Rank.Withdrawal().Label())})
	s.saveQuietly(ctx)
	return req, nil
}

// Withdrawals returns the player's withdrawal history, newest first.
func (s *Session) Withdrawals(ctx context.Context) ([]withdrawal.Request, error) {
	return s.ledger.History(ctx)
}

// GenerateWallet creates a fresh keypair and links it.
func (s *Session) GenerateWallet(ctx context.Context) (solana.PublicKey, error) {
	pk, err := s.wallet.Generate()
	if err != nil {
		return pk, err
	}
	return pk, s.linked(ctx, pk, progression.WalletGenerated)
}

// ImportWallet loads a hex secret key and links it.
func (s *Session) ImportWallet(ctx context.Context, secret string) (solana.PublicKey, error) {
	pk, err := s.wallet.Import(secret)
	if err != nil {
		return pk, err
	}
	return pk, s.linked(ctx, pk, progression.WalletImported)
}

// ExportWallet returns the hex secret key of the session wallet.
func (s *Session) ExportWallet() (string, bool) {
	return s.wallet.ExportSecret()
}

func (s *Session) linked(ctx context.Context, pk solana.PublicKey, kind progression.WalletKind) error {
	if err := s.store.LinkWallet(pk.String(), kind); err != nil {
		return err
	}
	s.payments.ForgetBalance()
	if _, err := s.payments.RefreshBalance(ctx); err != nil {
		s.logger.Debug("balance unavailable after wallet link", "err", err)
	}
	s.saveQuietly(ctx)
	return nil
}

// DisconnectWallet forgets the wallet key, drops any parked purchase and
// unlinks the address.
func (s *Session) DisconnectWallet(ctx context.Context) error {
	if err := s.wallet.Disconnect(ctx); err != nil {
		return err
	}
	s.payments.CancelPending()
	s.payments.ForgetBalance()
	s.store.UnlinkWallet()
	return nil
}

// WalletConnected reports whether the session wallet can sign.
func (s *Session) WalletConnected() bool {
	return s.wallet.Connected()
}

// RefreshBalance fetches the wallet balance in SOL.
func (s *Session) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.payments.RefreshBalance(ctx)
}

// Save writes the current state to the remote save, queueing it on failure.
func (s *Session) Save(ctx context.Context) error {
	now := s.clock.Now()
	snap, err := save.FromState(s.store.Current(), now)
	if err != nil {
		return err
	}
	return s.saves.PersistRemote(ctx, snap)
}

// saveQuietly saves after a mutation. Failures are already queued and
// logged by the reconciler.
func (s *Session) saveQuietly(ctx context.Context) {
	if err := s.Save(ctx); err != nil && !errors.Is(err, save.ErrNoIdentity) {
		s.logger.Debug("save deferred", "err", err)
	}
}

// ConnectivityRestored replays queued writes immediately.
func (s *Session) ConnectivityRestored(ctx context.Context) (replayed, remaining int) {
	return s.saves.ConnectivityRestored(ctx)
}

// Tick settles energy and reverts an expired god tier.
func (s *Session) Tick(ctx context.Context) {
	if s.store.Tick(s.clock.Now()) {
		s.godTierExpired(ctx)
	}
}

// Recheck drains the offline queue and re-checks unresolved payments.
func (s *Session) Recheck(ctx context.Context) {
	s.saves.DrainQueue(ctx)
	if _, err := s.payments.ReconcileUnresolved(ctx); err != nil {
		s.logger.Debug("unresolved payment recheck failed", "err", err)
	}
}

func (s *Session) godTierExpired(ctx context.Context) {
	s.logger.Info("god tier expired", "rank", s.store.Snapshot().Rank.String())
	s.feed.Notify(notify.Notification{Kind: notify.KindInfo, Title: "God tier expired",
		Message: "Your Muscle God status has ended. You are back to Legend."})
	s.saveQuietly(ctx)
}

// Notifications returns the notifications after sequence number after.
func (s *Session) Notifications(after uint64) []notify.Notification {
	return s.feed.Since(after)
}

// Cues drains the haptic cues emitted since the last call.
func (s *Session) Cues() []host.Cue {
	return s.haptics.Drain()
}

// Payments returns the payment coordinator status.
func (s *Session) Payments() payment.Status {
	return s.payments.Status()
}

// NextRank describes how to reach the rank above the current one.
type NextRank struct {
	Level       rank.Level `json:"level"`
	Name        string     `json:"name"`
	CostPoints  *float64   `json:"cost_points,omitempty"`
	CostSOL     string     `json:"cost_sol"`
	PaymentOnly bool       `json:"payment_only"`
}

// View is the state the shell renders, with derived values filled in.
type View struct {
	State           progression.State     `json:"state"`
	RankName        string                `json:"rank_name"`
	MaxEnergy       float64               `json:"max_energy"`
	SecondsToFull   float64               `json:"seconds_to_full"`
	Next            *NextRank             `json:"next,omitempty"`
	GodTierDaysLeft int                   `json:"god_tier_days_left,omitempty"`
	Withdrawal      rank.WithdrawalPolicy `json:"withdrawal"`
	WalletConnected bool                  `json:"wallet_connected"`
	Payment         payment.Status        `json:"payment"`
	PendingWrites   int                   `json:"pending_writes"`
	Unresolved      []payment.Unresolved  `json:"unresolved_payments,omitempty"`
}

// View returns the current state with energy regenerated to now.
func (s *Session) View() View {
	now := s.clock.Now()
	st := s.store.Current()
	tier := st.Rank.Tier()

	v := View{
		State:           st,
		RankName:        tier.Name,
		MaxEnergy:       tier.MaxEnergy,
		SecondsToFull:   energy.TimeToFull(st.Energy, tier).Seconds(),
		Withdrawal:      st.Rank.Withdrawal(),
		WalletConnected: s.wallet.Connected(),
		Payment:         s.payments.Status(),
		PendingWrites:   s.saves.Queue().Len(),
		Unresolved:      s.payments.Unresolved(),
	}
	if next, ok := st.Rank.Next(); ok {
		nt := next.Tier()
		n := &NextRank{Level: next, Name: nt.Name, CostSOL: nt.UpgradeCostSOL.String(), PaymentOnly: !nt.PurchasableWithPoints()}
		if !n.PaymentOnly {
			cost := nt.UpgradeCostPoints
			n.CostPoints = &cost
		}
		v.Next = n
	}
	if left := st.GodTierRemaining(now); left > 0 {
		v.GodTierDaysLeft = int(math.Ceil(left.Hours() / 24))
	}
	return v
}
