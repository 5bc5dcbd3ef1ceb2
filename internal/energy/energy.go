// Package energy computes tap energy regeneration in closed form, so a
// player returning after days offline gets the same result as one who kept
// the game open the whole time.
package energy

import (
	"math"
	"time"

	"github.com/musclefoot/musclefoot/internal/rank"
)

// Regenerate returns the energy level at now, given the level last observed
// at lastAt. The result never exceeds the tier maximum and never falls
// below last. Clock skew (now before lastAt) regenerates nothing.
func Regenerate(last float64, lastAt time.Time, tier rank.Tier, now time.Time) float64 {
	if last >= tier.MaxEnergy {
		return tier.MaxEnergy
	}
	elapsed := now.Sub(lastAt).Seconds()
	if elapsed <= 0 {
		return math.Max(last, 0)
	}
	return math.Min(tier.MaxEnergy, math.Max(last, 0)+elapsed*tier.Rate())
}

// TimeToFull returns how long the tier needs to refill from energy. It is
// zero when the bar is already full.
func TimeToFull(current float64, tier rank.Tier) time.Duration {
	missing := tier.MaxEnergy - current
	if missing <= 0 {
		return 0
	}
	secs := missing * tier.RecoverySeconds / tier.MaxEnergy
	return time.Duration(math.Round(secs * float64(time.Second)))
}
