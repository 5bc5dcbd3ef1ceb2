package host

import "sync"

// Cue is a haptic feedback kind.
type Cue string

const (
	CueTap     Cue = "tap"
	CueSuccess Cue = "success"
	CueError   Cue = "error"
)

// Haptics delivers feedback cues to the player's device.
type Haptics interface {
	Vibrate(cue Cue)
}

// CueRecorder is a Haptics that keeps the most recent cues so the shell can
// replay them on its next poll.
type CueRecorder struct {
	mu    sync.Mutex
	cues  []Cue
	limit int
}

// NewCueRecorder creates a recorder holding at most limit cues.
func NewCueRecorder(limit int) *CueRecorder {
	if limit <= 0 {
		limit = 64
	}
	return &CueRecorder{limit: limit}
}

// Vibrate records cue, dropping the oldest one at capacity.
func (r *CueRecorder) Vibrate(cue Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cues) >= r.limit {
		r.cues = r.cues[1:]
	}
	r.cues = append(r.cues, cue)
}

// Drain returns and clears the recorded cues.
func (r *CueRecorder) Drain() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.cues
	r.cues = nil
	return out
}

// Discard is a Haptics that drops every cue.
type Discard struct{}

// Vibrate implements Haptics.
func (Discard) Vibrate(Cue) {}
