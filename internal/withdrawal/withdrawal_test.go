package withdrawal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/musclefoot/musclefoot/internal/rank"
)

func TestNewQuote(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		lvl     rank.Level
		fee     float64
		net     float64
		delayHr int
	}{
		{"influencer", 10000, rank.Influencer, 300, 9700, 24},
		{"beginner", 1000, rank.Beginner, 100, 900, 72},
		{"gym rat", 2000, rank.GymRat, 100, 1900, 48},
		{"god tier instant", 20000, rank.GodTier, 200, 19800, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuote(tt.amount, tt.lvl)
			assert.Equal(t, tt.fee, q.FeeAmount)
			assert.Equal(t, tt.net, q.NetAmount)
			assert.Equal(t, tt.delayHr, q.DelayHours)
			assert.Equal(t, tt.lvl, q.Rank)
		})
	}
}

func TestNewRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	pending := NewRequest(NewQuote(10000, rank.Influencer), "wallet", now)
	assert.NotEmpty(t, pending.ID)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Equal(t, now.Add(24*time.Hour), pending.AvailableAt)
	assert.Equal(t, 10000.0, pending.RequestedAmount)

	instant := NewRequest(NewQuote(20000, rank.GodTier), "wallet", now)
	assert.Equal(t, StatusCompleted, instant.Status)
	assert.Equal(t, now, instant.AvailableAt)
	assert.NotEqual(t, pending.ID, instant.ID)
}
