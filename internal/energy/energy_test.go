package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/musclefoot/musclefoot/internal/rank"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRegenerateBeginner(t *testing.T) {
	tier := rank.Beginner.Tier()

	tests := []struct {
		name    string
		last    float64
		elapsed time.Duration
		want    float64
	}{
		{"half refill", 0, 150 * time.Second, 50},
		{"saturates", 0, 1000 * time.Second, 100},
		{"no time passed", 42, 0, 42},
		{"already full", 100, time.Hour, 100},
		{"offline for days", 3, 30 * 24 * time.Hour, 100},
		{"clock skew", 10, -time.Minute, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Regenerate(tt.last, epoch, tier, epoch.Add(tt.elapsed))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRegenerateMonotoneAndBounded(t *testing.T) {
	for _, lvl := range []rank.Level{rank.Beginner, rank.GymRat, rank.Pro, rank.GodTier} {
		tier := lvl.Tier()
		for _, last := range []float64{0, tier.MaxEnergy / 3, tier.MaxEnergy} {
			prev := -1.0
			for step := 0; step <= 200; step++ {
				elapsed := time.Duration(step) * time.Duration(tier.RecoverySeconds/100*float64(time.Second))
				got := Regenerate(last, epoch, tier, epoch.Add(elapsed))
				assert.GreaterOrEqual(t, got, prev, "level %d step %d", lvl, step)
				assert.LessOrEqual(t, got, tier.MaxEnergy)
				prev = got
			}
			assert.Equal(t, tier.MaxEnergy, prev, "level %d did not saturate", lvl)
		}
	}
}

func TestTimeToFull(t *testing.T) {
	tier := rank.Beginner.Tier()

	assert.Equal(t, 150*time.Second, TimeToFull(50, tier))
	assert.Zero(t, TimeToFull(100, tier))
	assert.Zero(t, TimeToFull(120, tier))

	// Inverse of Regenerate.
	start := 17.5
	full := epoch.Add(TimeToFull(start, tier))
	assert.InDelta(t, tier.MaxEnergy, Regenerate(start, epoch, tier, full), 1e-6)
}
