package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeedEvictsOldest(t *testing.T) {
	f := NewFeed(2)
	f.Notify(Notification{Kind: KindInfo, Title: "one"})
	f.Notify(Notification{Kind: KindInfo, Title: "two"})
	f.Notify(Notification{Kind: KindError, Title: "three", Reason: ReasonTimedOut})

	entries := f.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Title)
	assert.Equal(t, uint64(3), entries[1].ID)
	assert.False(t, entries[1].At.IsZero())
}

func TestFeedSince(t *testing.T) {
	f := NewFeed(10)
	for i := 0; i < 4; i++ {
		f.Notify(Notification{Kind: KindSuccess})
	}
	assert.Len(t, f.Since(2), 2)
	assert.Empty(t, f.Since(4))

	f.Clear()
	assert.Empty(t, f.Entries())
	f.Notify(Notification{Kind: KindCelebrate})
	assert.Equal(t, uint64(5), f.Entries()[0].ID)
}
