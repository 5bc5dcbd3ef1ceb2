package remote

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/save"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type store interface {
	save.Remote
	Insert(ctx context.Context, req withdrawal.Request) error
	ListByIdentity(ctx context.Context, telegramID int64) ([]withdrawal.Request, error)
}

func exerciseStore(t *testing.T, s store, playerID int64) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, playerID)
	assert.ErrorIs(t, err, save.ErrNotFound)

	expiry := epoch.Add(100 * 24 * time.Hour)
	first := save.Snapshot{
		TelegramID:       playerID,
		Username:         "arnold",
		MusclePoints:     500,
		Level:            rank.GodTier,
		CurrentEnergy:    42,
		LastTapTimestamp: epoch,
		WalletAddress:    "wallet",
		GodPackExpiry:    &expiry,
		HighScore:        500,
		UpdatedAt:        epoch,
	}
	require.NoError(t, s.Save(ctx, first))

	second := first
	second.MusclePoints = 100
	second.HighScore = 100
	second.GodPackExpiry = nil
	second.Level = rank.Legend
	second.UpdatedAt = epoch.Add(time.Minute)
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.MusclePoints, "last write wins")
	assert.Equal(t, 500.0, got.HighScore, "high score never decreases")
	assert.Equal(t, rank.Legend, got.Level)
	assert.Nil(t, got.GodPackExpiry)
	assert.True(t, got.UpdatedAt.Equal(second.UpdatedAt))

	id := host.Identity{ID: playerID, Name: "arnold"}
	older := withdrawal.NewRequest(withdrawal.NewQuote(1000, rank.Beginner), "wallet", epoch)
	older.Identity = id
	newer := withdrawal.NewRequest(withdrawal.NewQuote(2000, rank.Beginner), "wallet", epoch.Add(time.Hour))
	newer.Identity = id
	require.NoError(t, s.Insert(ctx, older))
	require.NoError(t, s.Insert(ctx, newer))

	list, err := s.ListByIdentity(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
	assert.Equal(t, withdrawal.StatusPending, list[0].Status)
	assert.Equal(t, 200.0, list[0].FeeAmount)

	other, err := s.ListByIdentity(ctx, playerID+1)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(), 7)
}

func TestMemoryOffline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetOffline(true)

	assert.ErrorIs(t, m.Save(ctx, save.Snapshot{TelegramID: 1}), ErrUnavailable)
	_, err := m.Load(ctx, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, m.Insert(ctx, withdrawal.Request{}), ErrUnavailable)

	m.SetOffline(false)
	require.NoError(t, m.Save(ctx, save.Snapshot{TelegramID: 1}))
	assert.Len(t, m.Players(), 1)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Load(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("MUSCLEFOOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MUSCLEFOOT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer p.Close()

	playerID := time.Now().UnixNano()
	exerciseStore(t, p, playerID)
}
