// Package notify holds the user-visible notifications a session produces
// and a bounded feed the shell polls for them.
package notify

import (
	"sync"
	"time"
)

// Kind is the presentation category of a notification.
type Kind string

const (
	KindSuccess   Kind = "success"
	KindCelebrate Kind = "celebrate"
	KindInfo      Kind = "info"
	KindError     Kind = "error"
)

// Reason distinguishes failure notifications for the shell.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonCancelled         Reason = "cancelled"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonTimedOut          Reason = "timed_out"
	ReasonFailed            Reason = "failed"
)

// Notification is one user-visible message.
type Notification struct {
	ID      uint64    `json:"id"`
	Kind    Kind      `json:"kind"`
	Reason  Reason    `json:"reason,omitempty"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// Feed is a thread-safe ring buffer of recent notifications.
type Feed struct {
	mu      sync.RWMutex
	entries []Notification
	maxSize int
	nextID  uint64
	now     func() time.Time
}

// NewFeed creates a feed keeping at most maxSize notifications.
func NewFeed(maxSize int) *Feed {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Feed{
		entries: make([]Notification, 0, maxSize),
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify appends n, assigning its ID and timestamp, evicting the oldest
// entry at capacity.
func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	n.ID = f.nextID
	if n.At.IsZero() {
		n.At = f.now()
	}
	if len(f.entries) >= f.maxSize {
		f.entries = f.entries[1:]
	}
	f.entries = append(f.entries, n)
}

// Since returns the notifications with an ID greater than after, oldest
// first.
func (f *Feed) Since(after uint64) []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []Notification{}
	for _, n := range f.entries {
		if n.ID > after {
			out = append(out, n)
		}
	}
	return out
}

// Entries returns a copy of every retained notification.
func (f *Feed) Entries() []Notification {
	return f.Since(0)
}

// Clear removes all entries. IDs keep increasing.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = f.entries[:0]
}

// Discard is a Notifier that drops everything.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Notification) {}
