// Package progression owns a player's progression state and every transition
// on it: taps, rank-ups, paid upgrades, god-tier expiry and withdrawals.
package progression

import (
	"math"
	"time"

	"github.com/musclefoot/musclefoot/internal/energy"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/rank"
)

// WalletKind records where the linked wallet came from.
type WalletKind string

const (
	WalletNone      WalletKind = ""
	WalletImported  WalletKind = "imported"
	WalletGenerated WalletKind = "generated"
)

// State is a full copy of a player's progression.
type State struct {
	Rank          rank.Level     `json:"rank"`
	Points        float64        `json:"points"`
	Energy        float64        `json:"energy"`
	LastEnergyAt  time.Time      `json:"last_energy_at"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	WalletKind    WalletKind     `json:"wallet_kind,omitempty"`
	GodTierExpiry *time.Time     `json:"god_tier_expiry,omitempty"`
	Identity      *host.Identity `json:"identity,omitempty"`
}

// NewState returns the state of a brand-new player at now: Beginner with a
// full energy bar.
func NewState(now time.Time) State {
	return State{
		Rank:         rank.Beginner,
		Energy:       rank.Beginner.Tier().MaxEnergy,
		LastEnergyAt: now,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.GodTierExpiry != nil {
		t := *s.GodTierExpiry
		out.GodTierExpiry = &t
	}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}

// Normalize clamps s back inside its invariants. It is applied to every state
// that enters the store from outside (cache, remote merge).
func (s State) Normalize() State {
	out := s.Clone()
	if !out.Rank.Valid() {
		if out.Rank < rank.Beginner {
			out.Rank = rank.Beginner
		} else {
			out.Rank = rank.MaxLevel
		}
	}
	if math.IsNaN(out.Points) || out.Points < 0 {
		out.Points = 0
	}
	maxEnergy := out.Rank.Tier().MaxEnergy
	switch {
	case math.IsNaN(out.Energy) || out.Energy < 0:
		out.Energy = 0
	case out.Energy > maxEnergy:
		out.Energy = maxEnergy
	}
	if out.Rank != rank.GodTier {
		out.GodTierExpiry = nil
	}
	if out.WalletAddress == "" {
		out.WalletKind = WalletNone
	}
	return out
}

// EnergyAt returns the regenerated energy at now without mutating s.
func (s State) EnergyAt(now time.Time) float64 {
	return energy.Regenerate(s.Energy, s.LastEnergyAt, s.Rank.Tier(), now)
}

// Settled returns s with energy regenerated up to now.
func (s State) Settled(now time.Time) State {
	out := s.Clone()
	if now.After(s.LastEnergyAt) {
		out.Energy = s.EnergyAt(now)
		out.LastEnergyAt = now
	}
	return out
}

// GodTierRemaining returns how long the god tier has left, or zero when the
// player is not god tier.
func (s State) GodTierRemaining(now time.Time) time.Duration {
	if s.Rank != rank.GodTier || s.GodTierExpiry == nil {
		return 0
	}
	if d := s.GodTierExpiry.Sub(now); d > 0 {
		return d
	}
	return 0
}
