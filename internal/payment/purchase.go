// Package payment drives on-chain purchases: build a transfer, have the
// wallet sign it, broadcast it, poll until it lands, and only then apply the
// purchased effect to the player's progression.
package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/musclefoot/musclefoot/internal/rank"
)

// PurchaseKind is what a payment buys.
type PurchaseKind string

const (
	KindTierUpgrade  PurchaseKind = "tier_upgrade"
	KindGodTier      PurchaseKind = "god_tier"
	KindEnergyRefill PurchaseKind = "energy_refill"
	KindDonation     PurchaseKind = "donation"
)

// Purchase describes one thing to pay for.
type Purchase struct {
	Kind   PurchaseKind    `json:"kind"`
	Target rank.Level      `json:"target,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// TierUpgrade buys rank target directly, skipping intermediate ranks.
func TierUpgrade(target rank.Level) Purchase {
	if target == rank.GodTier {
		return GodTier()
	}
	return Purchase{Kind: KindTierUpgrade, Target: target, Amount: target.Tier().UpgradeCostSOL}
}

// GodTier buys 100 days of the top rank.
func GodTier() Purchase {
	return Purchase{Kind: KindGodTier, Target: rank.GodTier, Amount: rank.GodTier.Tier().UpgradeCostSOL}
}

// EnergyRefill buys a full energy bar.
func EnergyRefill() Purchase {
	return Purchase{Kind: KindEnergyRefill, Amount: rank.EnergyRefillPrice}
}

// Donation sends amount SOL with no in-game effect.
func Donation(amount decimal.Decimal) Purchase {
	return Purchase{Kind: KindDonation, Amount: amount}
}

// Validate checks the purchase against the price list.
func (p Purchase) Validate() error {
	switch p.Kind {
	case KindTierUpgrade:
		if p.Target <= rank.Beginner || p.Target >= rank.GodTier {
			return fmt.Errorf("rank %d cannot be bought as a tier upgrade", p.Target)
		}
		if !p.Amount.Equal(p.Target.Tier().UpgradeCostSOL) {
			return fmt.Errorf("price of %s is %s SOL", p.Target, p.Target.Tier().UpgradeCostSOL)
		}
	case KindGodTier:
		if !p.Amount.Equal(rank.GodTier.Tier().UpgradeCostSOL) {
			return fmt.Errorf("price of %s is %s SOL", rank.GodTier, rank.GodTier.Tier().UpgradeCostSOL)
		}
	case KindEnergyRefill:
		if !p.Amount.Equal(rank.EnergyRefillPrice) {
			return fmt.Errorf("price of an energy refill is %s SOL", rank.EnergyRefillPrice)
		}
	case KindDonation:
		if p.Amount.LessThan(rank.MinDonation) {
			return fmt.Errorf("minimum donation is %s SOL", rank.MinDonation)
		}
	default:
		return fmt.Errorf("unknown purchase kind %q", p.Kind)
	}
	return nil
}

func (p Purchase) String() string {
	switch p.Kind {
	case KindTierUpgrade:
		return fmt.Sprintf("%s (%s SOL)", p.Target, p.Amount)
	case KindGodTier:
		return fmt.Sprintf("%s (%s SOL)", rank.GodTier, p.Amount)
	default:
		return fmt.Sprintf("%s (%s SOL)", p.Kind, p.Amount)
	}
}
