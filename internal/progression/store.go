package progression

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

// CacheKey is the cache key the state is written through to.
const CacheKey = "mf-state"

var (
	ErrInsufficientFunds      = errors.New("insufficient points")
	ErrAtMaxRank              = errors.New("already at max rank")
	ErrRequiresOnChainPayment = errors.New("next rank requires on-chain payment")
	ErrInvalidRank            = errors.New("invalid rank")
	ErrBelowMinimum           = errors.New("amount below withdrawal minimum")
	ErrInsufficientBalance    = errors.New("amount exceeds points balance")
	ErrWalletRequired         = errors.New("a linked wallet is required")
	ErrInvalidWalletAddress   = errors.New("wallet address is empty")
)

// Store serializes every transition on one player's State and writes each
// successful mutation through to the cache.
type Store struct {
	mu     sync.Mutex
	state  State
	clock  clock.Clock
	cache  cache.Cache
	logger *slog.Logger
}

// NewStore creates a store holding a fresh player state.
func NewStore(c cache.Cache, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  NewState(clk.Now()),
		clock:  clk,
		cache:  c,
		logger: logger,
	}
}

// Load replaces the in-memory state with the cached one, if any. It reports
// whether a cached state was found.
func (s *Store) Load() (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	var st State
	ok, err := cache.GetJSON(s.cache, CacheKey, &st)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Normalize()
	return true, nil
}

// Snapshot returns a copy of the stored state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Current returns a copy of the state with energy regenerated to now.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settled(s.clock.Now())
}

// Adopt replaces the state wholesale, e.g. with a reconciled one.
func (s *Store) Adopt(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(st.Normalize())
}

// SetIdentity attaches the host identity.
func (s *Store) SetIdentity(id host.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Identity != nil && *s.state.Identity == id {
		return
	}
	next := s.state.Clone()
	next.Identity = &id
	s.commit(next)
}

// Tap spends one action's energy for its points. A tap without enough
// energy is rejected and leaves the state untouched.
func (s *Store) Tap() bool {
	return s.TapN(1) == 1
}

// TapN applies up to n taps in order and returns how many were accepted.
// It stops at the first rejected tap.
func (s *Store) TapN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.expireLocked(now)
	next := s.state.Settled(now)
	tier := next.Rank.Tier()

	accepted := 0
	for ; accepted < n; accepted++ {
		if next.Energy < tier.EnergyCost {
			break
		}
		next.Energy -= tier.EnergyCost
		next.Points += tier.PointsPerAction
	}
	if accepted == 0 {
		return 0
	}
	next.LastEnergyAt = now
	s.commit(next)
	return accepted
}

// RankUpWithPoints buys the next rank with points and refills energy to the
// new tier's maximum.
func (s *Store) RankUpWithPoints() (rank.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.state.Rank.Next()
	if !ok {
		return s.state.Rank, ErrAtMaxRank
	}
	tier := target.Tier()
	if !tier.PurchasableWithPoints() {
		return s.state.Rank, ErrRequiresOnChainPayment
	}
	if s.state.Points < tier.UpgradeCostPoints {
		return s.state.Rank, fmt.Errorf("%w: %s costs %g, have %g",
			ErrInsufficientFunds, tier.Name, tier.UpgradeCostPoints, s.state.Points)
	}

	next := s.state.Clone()
	next.Points -= tier.UpgradeCostPoints
	next.Rank = target
	next.Energy = tier.MaxEnergy
	next.LastEnergyAt = s.clock.Now()
	s.commit(next)

	s.logger.Info("rank up with points", "rank", int(target))
	return target, nil
}

// ApplyPaidUpgrade applies a confirmed on-chain tier purchase. The rank
// never moves down: buying a tier at or below the current one only refills
// energy. A god-tier purchase (re)starts the 100-day timer.
func (s *Store) ApplyPaidUpgrade(target rank.Level, godTier bool) error {
	if godTier {
		target = rank.GodTier
	}
	if !target.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRank, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	next := s.state.Clone()
	if target > next.Rank {
		next.Rank = target
	}
	next.Energy = next.Rank.Tier().MaxEnergy
	next.LastEnergyAt = now
	if godTier {
		expiry := now.Add(rank.GodTierDuration)
		next.GodTierExpiry = &expiry
	}
	s.commit(next)

	s.logger.Info("paid upgrade applied", "rank", int(next.Rank), "god_tier", godTier)
	return nil
}

// RefillEnergy fills the energy bar of the current tier.
func (s *Store) RefillEnergy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.Energy = next.Rank.Tier().MaxEnergy
	next.LastEnergyAt = s.clock.Now()
	s.commit(next)
}

// CheckGodTierExpiry reverts an expired god tier to Legend with a full
// Legend energy bar. It reports whether a reversion happened; repeated calls
// after the first are no-ops.
func (s *Store) CheckGodTierExpiry(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(now)
}

func (s *Store) expireLocked(now time.Time) bool {
	if s.state.Rank != rank.GodTier || s.state.GodTierExpiry == nil {
		return false
	}
	if now.Before(*s.state.GodTierExpiry) {
		return false
	}

	next := s.state.Clone()
	next.Rank = rank.Legend
	next.Energy = rank.Legend.Tier().MaxEnergy
	next.LastEnergyAt = now
	next.GodTierExpiry = nil
	s.commit(next)

	s.logger.Info("god tier expired")
	return true
}

// Tick runs the periodic energy settle and god-tier expiry check. Settling
// is kept in memory only: the cached (energy, timestamp) pair regenerates to
// the same value.
func (s *Store) Tick(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireLocked(now) {
		return true
	}
	s.state = s.state.Settled(now)
	return false
}

// QuoteWithdrawal validates a withdrawal of amount without applying it.
// Checks run in order: minimum, balance, wallet.
func (s *Store) QuoteWithdrawal(amount float64) (withdrawal.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteLocked(amount)
}

func (s *Store) quoteLocked(amount float64) (withdrawal.Quote, error) {
	policy := s.state.Rank.Withdrawal()
	if !(amount >= policy.MinAmount) {
		return withdrawal.Quote{}, fmt.Errorf("%w: minimum is %g", ErrBelowMinimum, policy.MinAmount)
	}
	if amount > s.state.Points {
		return withdrawal.Quote{}, fmt.Errorf("%w: have %g", ErrInsufficientBalance, s.state.Points)
	}
	if s.state.WalletAddress == "" {
		return withdrawal.Quote{}, ErrWalletRequired
	}
	return withdrawal.NewQuote(amount, s.state.Rank), nil
}

// RequestWithdrawal debits the full amount (fee included) and returns the
// resulting request.
func (s *Store) RequestWithdrawal(amount float64) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.quoteLocked(amount)
	if err != nil {
		return withdrawal.Request{}, err
	}

	now := s.clock.Now()
	req := withdrawal.NewRequest(q, s.state.WalletAddress, now)
	if s.state.Identity != nil {
		req.Identity = *s.state.Identity
	}

	next := s.state.Clone()
	next.Points -= amount
	if next.Points < 0 {
		next.Points = 0
	}
	s.commit(next)
	return req, nil
}

// RevertWithdrawal credits back a request whose record could not be stored.
func (s *Store) RevertWithdrawal(req withdrawal.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.Points += req.RequestedAmount
	s.commit(next)
	s.logger.Warn("withdrawal reverted", "id", req.ID)
}

// LinkWallet records the player's wallet address.
func (s *Store) LinkWallet(address string, kind WalletKind) error {
	if address == "" {
		return ErrInvalidWalletAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.WalletAddress = address
	next.WalletKind = kind
	s.commit(next)
	return nil
}

// UnlinkWallet clears the wallet linkage.
func (s *Store) UnlinkWallet() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.WalletAddress = ""
	next.WalletKind = WalletNone
	s.commit(next)
}

// commit installs next and writes it through to the cache. A cache failure
// is logged and does not undo the transition. Callers hold s.mu.
func (s *Store) commit(next State) {
	s.state = next
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(s.cache, CacheKey, next); err != nil {
		s.logger.Error("cache write failed", "err", err)
	}
}
