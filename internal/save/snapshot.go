// Package save keeps the three copies of a player's progression in step:
// the local cache, the remote save and the queue of remote writes that have
// not gone through yet.
package save

import (
	"errors"
	"time"

	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
)

// ErrNoIdentity is returned when a snapshot is requested for a player the
// host has not identified. Remote rows are keyed by identity.
var ErrNoIdentity = errors.New("player has no host identity")

// Snapshot is the remote save row: a full copy of the progression keyed by
// the host user ID. Writes are full-row upserts.
type Snapshot struct {
	TelegramID       int64      `json:"telegram_id"`
	Username         string     `json:"username,omitempty"`
	MusclePoints     float64    `json:"muscle_points"`
	Level            rank.Level `json:"level"`
	CurrentEnergy    float64    `json:"current_energy"`
	LastTapTimestamp time.Time  `json:"last_tap_timestamp"`
	WalletAddress    string     `json:"wallet_address,omitempty"`
	GodPackExpiry    *time.Time `json:"god_pack_expiry,omitempty"`
	HighScore        float64    `json:"high_score"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FromState builds the snapshot of st taken at now.
func FromState(st progression.State, now time.Time) (Snapshot, error) {
	if st.Identity == nil {
		return Snapshot{}, ErrNoIdentity
	}
	snap := Snapshot{
		TelegramID:       st.Identity.ID,
		Username:         st.Identity.Name,
		MusclePoints:     st.Points,
		Level:            st.Rank,
		CurrentEnergy:    st.Energy,
		LastTapTimestamp: st.LastEnergyAt,
		WalletAddress:    st.WalletAddress,
		HighScore:        st.Points,
		UpdatedAt:        now,
	}
	if st.GodTierExpiry != nil {
		t := *st.GodTierExpiry
		snap.GodPackExpiry = &t
	}
	return snap, nil
}

// State converts the snapshot back into a progression state.
func (s Snapshot) State() progression.State {
	st := progression.State{
		Rank:          s.Level,
		Points:        s.MusclePoints,
		Energy:        s.CurrentEnergy,
		LastEnergyAt:  s.LastTapTimestamp,
		WalletAddress: s.WalletAddress,
		Identity:      &host.Identity{ID: s.TelegramID, Name: s.Username},
	}
	if s.WalletAddress != "" {
		st.WalletKind = progression.WalletImported
	}
	if s.GodPackExpiry != nil {
		t := *s.GodPackExpiry
		st.GodTierExpiry = &t
	}
	return st.Normalize()
}
