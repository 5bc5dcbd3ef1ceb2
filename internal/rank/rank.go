// Package rank defines the static rank table: per-tier energy economics,
// upgrade prices in points and SOL, and the withdrawal schedule.
package rank

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level indexes the rank table. Valid levels are 0 through GodTier.
type Level int

const (
	Beginner Level = iota
	GymRat
	Influencer
	Pro
	Legend
	GodTier

	// MaxLevel is the highest level in the table.
	MaxLevel = GodTier
)

// NotPurchasable marks a tier that cannot be bought with points.
const NotPurchasable = -1

// GodTierDuration is how long a god-tier purchase lasts before the
// automatic reversion to Legend.
const GodTierDuration = 100 * 24 * time.Hour

// Tier holds the immutable parameters of one rank.
type Tier struct {
	Name              string
	MaxEnergy         float64
	RecoverySeconds   float64
	EnergyCost        float64 // energy spent per tap
	PointsPerAction   float64 // points earned per tap
	UpgradeCostPoints float64 // NotPurchasable when points cannot buy it
	UpgradeCostSOL    decimal.Decimal
}

// Rate is the regeneration rate in energy per second.
func (t Tier) Rate() float64 {
	return t.MaxEnergy / t.RecoverySeconds
}

// PurchasableWithPoints reports whether the tier can be reached by spending points.
func (t Tier) PurchasableWithPoints() bool {
	return t.UpgradeCostPoints != NotPurchasable
}

// WithdrawalPolicy is the off-ramp schedule in force at a rank.
type WithdrawalPolicy struct {
	MinAmount  float64
	FeePercent float64
	DelayHours int
}

// Delay returns the delay as a duration.
func (p WithdrawalPolicy) Delay() time.Duration {
	return time.Duration(p.DelayHours) * time.Hour
}

// Label is the short human form of the delay, e.g. "24h" or "Instant".
func (p WithdrawalPolicy) Label() string {
	if p.DelayHours == 0 {
		return "Instant"
	}
	return fmt.Sprintf("%dh", p.DelayHours)
}

var tiers = [...]Tier{
	{Name: "Beginner", MaxEnergy: 100, RecoverySeconds: 5 * 60, EnergyCost: 0.5, PointsPerAction: 0.001, UpgradeCostPoints: 0, UpgradeCostSOL: decimal.Zero},
	{Name: "Gym Rat", MaxEnergy: 300, RecoverySeconds: 2 * 60 * 60, EnergyCost: 1.0, PointsPerAction: 0.01, UpgradeCostPoints: 5, UpgradeCostSOL: decimal.RequireFromString("0.15")},
	{Name: "Influencer", MaxEnergy: 750, RecoverySeconds: 4 * 60 * 60, EnergyCost: 2.5, PointsPerAction: 0.10, UpgradeCostPoints: 10000, UpgradeCostSOL: decimal.RequireFromString("0.45")},
	{Name: "Pro", MaxEnergy: 1500, RecoverySeconds: 6 * 60 * 60, EnergyCost: 5.0, PointsPerAction: 0.40, UpgradeCostPoints: 50000, UpgradeCostSOL: decimal.RequireFromString("1.5")},
	{Name: "Legend", MaxEnergy: 1500, RecoverySeconds: 8 * 60 * 60, EnergyCost: 7.5, PointsPerAction: 0.75, UpgradeCostPoints: 200000, UpgradeCostSOL: decimal.RequireFromString("3.0")},
	{Name: "Muscle God", MaxEnergy: 10000, RecoverySeconds: 8 * 60 * 60, EnergyCost: 25.0, PointsPerAction: 1.00, UpgradeCostPoints: NotPurchasable, UpgradeCostSOL: decimal.RequireFromString("10")},
}

var withdrawals = [...]WithdrawalPolicy{
	{MinAmount: 1000, FeePercent: 10, DelayHours: 72},
	{MinAmount: 1000, FeePercent: 5, DelayHours: 48},
	{MinAmount: 5000, FeePercent: 3, DelayHours: 24},
	{MinAmount: 15000, FeePercent: 2, DelayHours: 12},
	{MinAmount: 15000, FeePercent: 2, DelayHours: 12},
	{MinAmount: 15000, FeePercent: 1, DelayHours: 0},
}

// Prices for on-chain purchases that are not rank tiers.
var (
	EnergyRefillPrice = decimal.RequireFromString("0.01")
	MinDonation       = decimal.RequireFromString("0.0001")
)

// Valid reports whether l is inside the table.
func (l Level) Valid() bool {
	return l >= Beginner && l <= MaxLevel
}

// Tier returns the parameters for l. Out-of-range levels are clamped so a
// corrupted save can never index past the table.
func (l Level) Tier() Tier {
	return tiers[l.clamp()]
}

// Withdrawal returns the withdrawal policy for l.
func (l Level) Withdrawal() WithdrawalPolicy {
	return withdrawals[l.clamp()]
}

// Next returns the level above l and false when l is already the top.
func (l Level) Next() (Level, bool) {
	if l >= MaxLevel {
		return l, false
	}
	return l + 1, true
}

func (l Level) String() string {
	return l.Tier().Name
}

func (l Level) clamp() Level {
	if l < Beginner {
		return Beginner
	}
	if l > MaxLevel {
		return MaxLevel
	}
	return l
}

// Tiers returns a copy of the full table ordered by level.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers[:])
	return out
}
