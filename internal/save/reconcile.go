package save

import (
	"math"
	"time"

	"github.com/musclefoot/musclefoot/internal/energy"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
)

// Reconcile merges a remote save into the local state. The remote only wins
// when it is strictly ahead on points or rank, and then points and rank are
// each taken as the maximum of both sides, so the result never regresses
// either field. When the remote is adopted, energy is regenerated from the
// remote's own timestamp.
//
// Independently of that, a later remote god-tier expiry extends the local
// one, and a remote wallet fills in an empty local wallet.
func Reconcile(local progression.State, remote *Snapshot, now time.Time) progression.State {
	out := local.Clone()
	if remote == nil {
		return out.Normalize()
	}

	if remote.MusclePoints > local.Points || remote.Level > local.Rank {
		out.Points = math.Max(remote.MusclePoints, local.Points)
		if remote.Level > local.Rank {
			out.Rank = remote.Level
		}
		if !out.Rank.Valid() {
			out.Rank = rank.MaxLevel
		}
		out.Energy = energy.Regenerate(remote.CurrentEnergy, remote.LastTapTimestamp, out.Rank.Tier(), now)
		out.LastEnergyAt = now
	}

	if out.Rank == rank.GodTier && remote.GodPackExpiry != nil {
		if out.GodTierExpiry == nil || remote.GodPackExpiry.After(*out.GodTierExpiry) {
			t := *remote.GodPackExpiry
			out.GodTierExpiry = &t
		}
	}

	if out.WalletAddress == "" && remote.WalletAddress != "" {
		out.WalletAddress = remote.WalletAddress
		out.WalletKind = progression.WalletImported
	}

	return out.Normalize()
}
