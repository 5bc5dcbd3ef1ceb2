package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/notify"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/solana"
	"github.com/musclefoot/musclefoot/internal/wallet"
)

// State is the coordinator's position in the payment protocol.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingConnection State = "awaiting_connection"
	StateBuilding           State = "building"
	StateAwaitingSignature  State = "awaiting_signature"
	StateBroadcasting       State = "broadcasting"
	StateConfirming         State = "confirming"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// RPC is the subset of the blockchain client the coordinator uses.
type RPC interface {
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Blockhash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*solana.SignatureStatus, error)
	SearchSignatureHistory(ctx context.Context, sigs ...solana.Signature) ([]*solana.SignatureStatus, error)
}

// Progression applies purchased effects.
type Progression interface {
	Snapshot() progression.State
	ApplyPaidUpgrade(target rank.Level, godTier bool) error
	RefillEnergy()
}

// Config tunes the protocol.
type Config struct {
	Receiver     solana.PublicKey
	FeeBuffer    decimal.Decimal // reserve required on top of the price
	PollAttempts int
	PollInterval time.Duration
	LateWindow   time.Duration // how long timed-out signatures are re-checked
}

// DefaultConfig returns the stock protocol settings for receiver.
func DefaultConfig(receiver solana.PublicKey) Config {
	return Config{
		Receiver:     receiver,
		FeeBuffer:    decimal.RequireFromString("0.005"),
		PollAttempts: 30,
		PollInterval: 2 * time.Second,
		LateWindow:   24 * time.Hour,
	}
}

// PendingIntent is a purchase parked until the wallet connects. It is
// consumed exactly once.
type PendingIntent struct {
	ID        string    `json:"id"`
	Purchase  Purchase  `json:"purchase"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the result of a purchase attempt.
type Outcome struct {
	Purchase  Purchase         `json:"purchase"`
	State     State            `json:"state"`
	Signature solana.Signature `json:"signature,omitzero"`
	IntentID  string           `json:"intent_id,omitempty"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State      State          `json:"state"`
	Current    *Purchase      `json:"current,omitempty"`
	Pending    *PendingIntent `json:"pending,omitempty"`
	Last       *Outcome       `json:"last,omitempty"`
	LastError  ErrorKind      `json:"last_error,omitempty"`
	Balance    *string        `json:"balance_sol,omitempty"`
	Unresolved int            `json:"unresolved"`
}

// Coordinator runs at most one payment at a time for one player.
type Coordinator struct {
	cfg      Config
	rpc      RPC
	wallet   wallet.Wallet
	progress Progression
	notifier notify.Notifier
	haptics  host.Haptics
	clock    clock.Clock
	cache    cache.Cache
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	busy       bool
	current    *Purchase
	pending    *PendingIntent
	last       *Outcome
	lastErr    ErrorKind
	balance    *uint64
	unresolved []Unresolved

	// OnSettled, when set, is called after every purchase that applied an
	// effect, once the effect is in place.
	OnSettled func(Purchase)

	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	RPC         RPC
	Wallet      wallet.Wallet
	Progression Progression
	Notifier    notify.Notifier
	Haptics     host.Haptics
	Clock       clock.Clock
	Cache       cache.Cache
	Logger      *slog.Logger
}

// NewCoordinator creates a coordinator and subscribes it to wallet
// connections so a parked purchase resumes when the wallet connects.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	c := &Coordinator{
		cfg:      cfg,
		rpc:      deps.RPC,
		wallet:   deps.Wallet,
		progress: deps.Progression,
		notifier: deps.Notifier,
		haptics:  deps.Haptics,
		clock:    deps.Clock,
		cache:    deps.Cache,
		logger:   deps.Logger,
		state:    StateIdle,
		done:     make(chan struct{}),
	}
	if c.notifier == nil {
		c.notifier = notify.Discard{}
	}
	if c.haptics == nil {
		c.haptics = host.Discard{}
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.loadUnresolved()
	c.wallet.OnConnect(c.handleConnected)
	return c
}

// Status returns the current protocol state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, LastError: c.lastErr, Unresolved: len(c.unresolved)}
	if c.current != nil {
		p := *c.current
		st.Current = &p
	}
	if c.pending != nil {
		p := *c.pending
		st.Pending = &p
	}
	if c.last != nil {
		o := *c.last
		st.Last = &o
	}
	if c.balance != nil {
		s := solana.LamportsToSOL(*c.balance).String()
		st.Balance = &s
	}
	return st
}

// Purchase runs the payment protocol for p. When the wallet is not yet
// connected the purchase is parked as a PendingIntent and the outcome is
// StateAwaitingConnection with a nil error; it resumes when the wallet
// connects. Every other failure is a *Error and leaves progression
// untouched.
func (c *Coordinator) Purchase(ctx context.Context, p Purchase) (Outcome, error) {
	if err := c.validate(p); err != nil {
		return c.reject(p, err)
	}
	if !c.acquire(p) {
		return Outcome{Purchase: p, State: c.Status().State}, newError(ErrBusy, errors.New("another payment is in progress"))
	}
	defer c.release()

	if !c.wallet.Connected() {
		if _, err := c.wallet.Connect(ctx); err != nil {
			if errors.Is(err, wallet.ErrConnectPending) {
				return c.park(p), nil
			}
			kind := ErrConnectFailed
			if errors.Is(err, wallet.ErrUserRejected) {
				kind = ErrUserRejected
			}
			return c.fail(p, &Error{Kind: kind, Err: err})
		}
	}
	return c.run(ctx, p)
}

// ResumePending runs the parked purchase, if any. The intent is cleared
// before the purchase starts, so it runs at most once however many times
// resumption is triggered.
func (c *Coordinator) ResumePending(ctx context.Context) (Outcome, bool, error) {
	intent := c.takePending()
	if intent == nil {
		return Outcome{}, false, nil
	}
	c.logger.Info("resuming parked payment", "intent", intent.ID, "purchase", intent.Purchase.String())
	out, err := c.Purchase(ctx, intent.Purchase)
	return out, true, err
}

// CancelPending drops the parked purchase.
func (c *Coordinator) CancelPending() bool {
	return c.takePending() != nil
}

func (c *Coordinator) handleConnected(solana.PublicKey) {
	c.mu.Lock()
	hasPending := c.pending != nil
	c.mu.Unlock()
	if !hasPending {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, _, err := c.ResumePending(context.Background()); err != nil {
			c.logger.Warn("resumed payment failed", "err", err)
		}
	}()
}

// Wait blocks until background resumptions have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops confirmation polling early; payments in flight end as
// timeouts and are kept for late reconciliation.
func (c *Coordinator) Close() {
	c.closing.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Coordinator) validate(p Purchase) error {
	if err := p.Validate(); err != nil {
		return newError(ErrInvalidPurchase, err)
	}
	if p.Kind == KindTierUpgrade {
		if current := c.progress.Snapshot().Rank; p.Target <= current {
			return newError(ErrInvalidPurchase, fmt.Errorf("already at %s", current))
		}
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, p Purchase) (Outcome, error) {
	from, ok := c.wallet.PublicKey()
	if !ok || !c.wallet.Connected() {
		return c.fail(p, newError(ErrWalletNotReady, wallet.ErrNotConnected))
	}

	lamports, err := solana.SOLToLamports(p.Amount)
	if err != nil {
		return c.fail(p, newError(ErrInvalidPurchase, err))
	}
	reserve, err := solana.SOLToLamports(c.cfg.FeeBuffer)
	if err != nil {
		return c.fail(p, newError(ErrInvalidPurchase, err))
	}
	if bal, known := c.knownBalance(); known && (bal < reserve || bal-reserve < lamports) {
		return c.fail(p, newError(ErrInsufficientBalance, fmt.Errorf(
			"need at least %s SOL plus fees, balance is %s SOL",
			p.Amount, solana.LamportsToSOL(bal).StringFixed(4))))
	}

	c.setState(StateBuilding)
	bh, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return c.fail(p, newError(ErrNetworkUnavailable, err))
	}
	tx, err := solana.NewTransfer(from, c.cfg.Receiver, lamports, bh.Hash)
	if err != nil {
		return c.fail(p, newError(ErrInvalidPurchase, err))
	}

	c.setState(StateAwaitingSignature)
	signed, err := c.wallet.SignTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return c.fail(p, newError(ErrUserRejected, err))
		}
		return c.fail(p, newError(ErrWalletNotReady, err))
	}

	c.setState(StateBroadcasting)
	sig, err := c.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return c.fail(p, &Error{Kind: ErrBroadcast, Signature: signed.Signature(), Err: err})
	}

	// Past this point the transfer may execute, so caller cancellation no
	// longer applies.
	c.setState(StateConfirming)
	c.logger.Info("payment broadcast", "signature", sig.String(), "purchase", p.String())
	if err := c.confirm(context.WithoutCancel(ctx), sig); err != nil {
		if err.Kind == ErrConfirmationTimeout {
			c.addUnresolved(Unresolved{Signature: sig, Purchase: p, BroadcastAt: c.clock.Now()})
		}
		return c.fail(p, err)
	}

	c.settle(ctx, p)
	out := Outcome{Purchase: p, State: StateSucceeded, Signature: sig}
	c.finish(out, "")
	return out, nil
}

// confirm polls the signature status until it lands, fails on chain, or the
// poll budget runs out. Transient RPC errors only consume an attempt.
func (c *Coordinator) confirm(ctx context.Context, sig solana.Signature) *Error {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		select {
		case <-timer.C:
		case <-c.done:
			return &Error{Kind: ErrConfirmationTimeout, Signature: sig, Broadcast: true, Err: errors.New("shutting down")}
		}
		timer.Reset(c.cfg.PollInterval)

		statuses, err := c.rpc.GetSignatureStatuses(ctx, sig)
		if err != nil {
			c.logger.Debug("status poll failed", "signature", sig.String(), "attempt", attempt, "err", err)
			continue
		}
		if len(statuses) == 0 || statuses[0] == nil {
			continue
		}
		st := statuses[0]
		if !st.Landed() {
			continue
		}
		if st.Failed() {
			return &Error{Kind: ErrOnChainFailure, Signature: sig, Broadcast: true,
				Err: fmt.Errorf("transaction failed on-chain: %s", st.Err)}
		}
		return nil
	}
	return &Error{Kind: ErrConfirmationTimeout, Signature: sig, Broadcast: true,
		Err: fmt.Errorf("not confirmed after %d polls", c.cfg.PollAttempts)}
}

// settle applies the single progression effect of a confirmed purchase,
// then refreshes the balance and announces it.
func (c *Coordinator) settle(ctx context.Context, p Purchase) {
	var n notify.Notification
	switch p.Kind {
	case KindTierUpgrade:
		if err := c.progress.ApplyPaidUpgrade(p.Target, false); err != nil {
			c.logger.Error("applying paid upgrade", "err", err)
		}
		n = notify.Notification{Kind: notify.KindCelebrate, Title: "Rank up!",
			Message: fmt.Sprintf("You are now %s.", c.progress.Snapshot().Rank)}
	case KindGodTier:
		if err := c.progress.ApplyPaidUpgrade(rank.GodTier, true); err != nil {
			c.logger.Error("applying god tier", "err", err)
		}
		n = notify.Notification{Kind: notify.KindCelebrate, Title: "Ascended to Muscle God",
			Message: fmt.Sprintf("God tier is active for %d days.", int(rank.GodTierDuration.Hours()/24))}
	case KindEnergyRefill:
		c.progress.RefillEnergy()
		n = notify.Notification{Kind: notify.KindSuccess, Title: "Energy refilled"}
	case KindDonation:
		n = notify.Notification{Kind: notify.KindSuccess, Title: "Thank you!",
			Message: fmt.Sprintf("Your donation of %s SOL was received.", p.Amount)}
	}

	if p.Kind != KindDonation && c.OnSettled != nil {
		c.OnSettled(p)
	}
	if _, err := c.RefreshBalance(context.WithoutCancel(ctx)); err != nil {
		c.logger.Debug("balance refresh after payment failed", "err", err)
	}
	c.notifier.Notify(n)
	c.haptics.Vibrate(host.CueSuccess)
}

// RefreshBalance fetches the wallet balance and caches it for the
// precondition check.
func (c *Coordinator) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	pk, ok := c.wallet.PublicKey()
	if !ok {
		c.mu.Lock()
		c.balance = nil
		c.mu.Unlock()
		return decimal.Zero, newError(ErrWalletNotReady, wallet.ErrNotConnected)
	}
	lamports, err := c.rpc.GetBalance(ctx, pk)
	if err != nil {
		return decimal.Zero, newError(ErrNetworkUnavailable, err)
	}
	c.mu.Lock()
	c.balance = &lamports
	c.mu.Unlock()
	return solana.LamportsToSOL(lamports), nil
}

// ForgetBalance drops the cached balance, e.g. after the wallet changes.
func (c *Coordinator) ForgetBalance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = nil
}

func (c *Coordinator) knownBalance() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balance == nil {
		return 0, false
	}
	return *c.balance, true
}

func (c *Coordinator) acquire(p Purchase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	c.current = &p
	c.lastErr = ""
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.current = nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("payment state", "state", string(s))
}

func (c *Coordinator) park(p Purchase) Outcome {
	intent := &PendingIntent{ID: uuid.NewString(), Purchase: p, CreatedAt: c.clock.Now()}
	c.mu.Lock()
	c.pending = intent
	c.state = StateAwaitingConnection
	c.mu.Unlock()

	c.logger.Info("payment parked until wallet connects", "intent", intent.ID, "purchase", p.String())
	c.notifier.Notify(notify.Notification{Kind: notify.KindInfo, Title: "Connect your wallet",
		Message: "Your purchase will continue once the wallet is connected."})
	return Outcome{Purchase: p, State: StateAwaitingConnection, IntentID: intent.ID}
}

func (c *Coordinator) takePending() *PendingIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	intent := c.pending
	c.pending = nil
	if intent != nil && c.state == StateAwaitingConnection {
		c.state = StateIdle
	}
	return intent
}

func (c *Coordinator) reject(p Purchase, err error) (Outcome, error) {
	c.notifier.Notify(failureNotice(err))
	return Outcome{Purchase: p, State: StateFailed}, err
}

func (c *Coordinator) fail(p Purchase, err *Error) (Outcome, error) {
	out := Outcome{Purchase: p, State: StateFailed, Signature: err.Signature}
	c.finish(out, err.Kind)
	c.logger.Warn("payment failed", "purchase", p.String(), "kind", string(err.Kind), "broadcast", err.Broadcast, "err", err.Err)
	c.notifier.Notify(failureNotice(err))
	c.haptics.Vibrate(host.CueError)
	return out, err
}

func (c *Coordinator) finish(out Outcome, kind ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = out.State
	c.last = &out
	c.lastErr = kind
}

// failureNotice maps a payment error onto the user-facing message for its
// category.
func failureNotice(err error) notify.Notification {
	var pe *Error
	if !errors.As(err, &pe) {
		return notify.Notification{Kind: notify.KindError, Reason: notify.ReasonFailed, Title: "Payment failed", Message: err.Error()}
	}
	switch pe.Kind {
	case ErrUserRejected:
		return notify.Notification{Kind: notify.KindError, Reason: notify.ReasonCancelled,
			Title: "Payment cancelled", Message: "You declined the transaction. Nothing was charged."}
	case ErrInsufficientBalance:
		return notify.Notification{Kind: notify.KindError, Reason: notify.ReasonInsufficientFunds,
			Title: "Insufficient balance for this transaction", Message: pe.Err.Error()}
	case ErrConfirmationTimeout:
		return notify.Notification{Kind: notify.KindError, Reason: notify.ReasonTimedOut,
			Title: "Confirmation timed out",
			Message: "The transaction was sent but not confirmed in time. Funds may have left your wallet; " +
				"it will be re-checked and applied automatically if it lands."}
	case ErrBusy:
		return notify.Notification{Kind: notify.KindInfo, Reason: notify.ReasonFailed,
			Title: "Payment already in progress"}
	default:
		msg := "Nothing was charged."
		if pe.Broadcast {
			msg = "The transaction was sent; funds may have left your wallet."
		}
		return notify.Notification{Kind: notify.KindError, Reason: notify.ReasonFailed,
			Title: "Payment failed", Message: msg}
	}
}
