package notify_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engage/internal/domain"
	"engage/internal/realtime/notify"
)

func notif(id string, read bool) domain.Notification {
	return domain.Notification{
		ID:        id,
		Type:      domain.NotifyMessage,
		Title:     "t",
		Message:   "m",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IsRead:    read,
	}
}

func TestReduce(t *testing.T) {
	t.Run("AddPrependsAndCounts", func(t *testing.T) {
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionAdd, Notification: notif("a", false)}, 50)
		s = notify.Reduce(s, notify.Action{Type: notify.ActionAdd, Notification: notif("b", false)}, 50)

		require.Len(t, s.List, 2)
		assert.Equal(t, "b", s.List[0].ID)
		assert.Equal(t, 2, s.UnreadCount)
	})

	t.Run("AddForcesUnread", func(t *testing.T) {
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionAdd, Notification: notif("a", true)}, 50)
		assert.Equal(t, 1, s.UnreadCount)
	})

	t.Run("MarkRead", func(t *testing.T) {
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionAdd, Notification: notif("a", false)}, 50)
		s = notify.Reduce(s, notify.Action{Type: notify.ActionMarkRead, ID: "a"}, 50)
		assert.Equal(t, 0, s.UnreadCount)
		assert.True(t, s.List[0].IsRead)

		// Unknown id is a no-op.
		s = notify.Reduce(s, notify.Action{Type: notify.ActionMarkRead, ID: "ghost"}, 50)
		assert.Len(t, s.List, 1)
	})

	t.Run("MarkAllRead", func(t *testing.T) {
		var s notify.State
		for i := 0; i < 3; i++ {
			s = notify.Reduce(s, notify.Action{Type: notify.ActionAdd, Notification: notif(fmt.Sprintf("n%d", i), false)}, 50)
		}
		s = notify.Reduce(s, notify.Action{Type: notify.ActionMarkAllRead}, 50)
		assert.Equal(t, 0, s.UnreadCount)
	})

	t.Run("Remove", func(t *testing.T) {
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionAdd, Notification: notif("a", false)}, 50)
		s = notify.Reduce(s, notify.Action{Type: notify.ActionRemove, ID: "a"}, 50)
		assert.Empty(t, s.List)
		assert.Equal(t, 0, s.UnreadCount)
	})

	t.Run("ClearAll", func(t *testing.T) {
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionAdd, Notification: notif("a", false)}, 50)
		s = notify.Reduce(s, notify.Action{Type: notify.ActionClearAll}, 50)
		assert.Empty(t, s.List)
		assert.Equal(t, 0, s.UnreadCount)
	})

	t.Run("SnapshotRespectsCapAndCounts", func(t *testing.T) {
		snap := []domain.Notification{notif("a", true), notif("b", false), notif("c", false)}
		s := notify.Reduce(notify.State{}, notify.Action{Type: notify.ActionSetSnapshot, Snapshot: snap}, 2)
		require.Len(t, s.List, 2)
		assert.Equal(t, 1, s.UnreadCount)
	})
}

// Fifty-one arrivals against a cap of fifty: the oldest entry falls off and
// the badge reflects exactly the retained unread entries.
func TestReduceCapEviction(t *testing.T) {
	var s notify.State
	for i := 0; i < 51; i++ {
		s = notify.Reduce(s, notify.Action{Type: notify.ActionAdd, Notification: notif(fmt.Sprintf("n%02d", i), false)}, 50)
	}

	require.Len(t, s.List, 50)
	assert.Equal(t, 50, s.UnreadCount)
	assert.Equal(t, "n50", s.List[0].ID)
	for _, n := range s.List {
		assert.NotEqual(t, "n00", n.ID)
	}
}
