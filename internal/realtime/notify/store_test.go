package notify_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engage/internal/domain"
	"engage/internal/realtime/localstore"
	"engage/internal/realtime/notify"
	"engage/internal/realtime/transport"
)

type fakeSound struct{ plays int }

func (f *fakeSound) Play() { f.plays++ }

type fakeDesktop struct{ alerts []domain.Notification }

func (f *fakeDesktop) Alert(n domain.Notification) { f.alerts = append(f.alerts, n) }

// fakeBus records registrations so tests can both inspect and drive them.
type fakeBus struct {
	joined   map[string]int
	nextID   int
	handlers map[string]map[int]transport.Handler // event -> id -> handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{joined: make(map[string]int), handlers: make(map[string]map[int]transport.Handler)}
}

func (b *fakeBus) JoinRoom(room string)  { b.joined[room]++ }
func (b *fakeBus) LeaveRoom(room string) { b.joined[room]-- }

func (b *fakeBus) On(event, _ string, fn transport.Handler) func() {
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]transport.Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[event][id] = fn
	return func() { delete(b.handlers[event], id) }
}

func (b *fakeBus) emit(event, room string, payload any) {
	raw, _ := json.Marshal(payload)
	for _, fn := range b.handlers[event] {
		fn(room, raw)
	}
}

func TestStorePublish(t *testing.T) {
	t.Run("RecordsAndFiresEffects", func(t *testing.T) {
		sound := &fakeSound{}
		desktop := &fakeDesktop{}
		s := notify.New(localstore.NewMemory(), notify.Options{Sound: sound, Desktop: desktop})

		perm := domain.PermissionGranted
		s.UpdateSettings(notify.SettingsPatch{Desktop: ptr(true), DesktopPermission: &perm})

		s.Publish(domain.NotifyPoll, "New poll", "vote now", "topic-1")

		assert.Equal(t, 1, s.UnreadCount())
		assert.Equal(t, 1, sound.plays)
		require.Len(t, desktop.alerts, 1)
		assert.Equal(t, "New poll", desktop.alerts[0].Title)
	})

	t.Run("MutedCategoryStillUpdatesBadge", func(t *testing.T) {
		sound := &fakeSound{}
		s := notify.New(localstore.NewMemory(), notify.Options{Sound: sound})
		s.UpdateSettings(notify.SettingsPatch{Poll: ptr(false)})

		s.Publish(domain.NotifyPoll, "New poll", "vote now", "")

		assert.Equal(t, 1, s.UnreadCount())
		assert.Equal(t, 0, sound.plays)
	})

	t.Run("DesktopOffWithoutPermission", func(t *testing.T) {
		desktop := &fakeDesktop{}
		s := notify.New(localstore.NewMemory(), notify.Options{Desktop: desktop})
		s.UpdateSettings(notify.SettingsPatch{Desktop: ptr(true)}) // permission still "default"

		s.Publish(domain.NotifyMessage, "New message", "hi", "")
		assert.Empty(t, desktop.alerts)
	})
}

func TestStorePersistence(t *testing.T) {
	kv := localstore.NewMemory()

	s := notify.New(kv, notify.Options{})
	n := s.Publish(domain.NotifyQA, "New question", "why?", "topic-2")
	s.MarkAsRead(n.ID)
	s.UpdateSettings(notify.SettingsPatch{Sound: ptr(false)})

	// A second store over the same KV restores feed and settings.
	restored := notify.New(kv, notify.Options{})
	require.Len(t, restored.List(), 1)
	assert.Equal(t, 0, restored.UnreadCount())
	assert.True(t, restored.List()[0].IsRead)
	assert.False(t, restored.Settings().Sound)
}

func TestStoreCorruptSnapshot(t *testing.T) {
	kv := localstore.NewMemory()
	require.NoError(t, kv.Set("engage.notifications", "{not json"))
	require.NoError(t, kv.Set("engage.notification_settings", "also not json"))

	s := notify.New(kv, notify.Options{})
	assert.Empty(t, s.List())
	assert.Equal(t, domain.DefaultSettings(), s.Settings())
}

func TestStoreClearAll(t *testing.T) {
	kv := localstore.NewMemory()
	s := notify.New(kv, notify.Options{})
	s.Publish(domain.NotifyMessage, "New message", "hi", "")
	s.ClearAll()

	assert.Empty(t, s.List())
	_, ok, err := kv.Get("engage.notifications")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreAttach(t *testing.T) {
	t.Run("GenericEventAlwaysRecords", func(t *testing.T) {
		bus := newFakeBus()
		s := notify.New(localstore.NewMemory(), notify.Options{})
		s.UpdateSettings(notify.SettingsPatch{Events: ptr(false)})

		detach := s.Attach(bus, "event:e1")
		defer detach()

		bus.emit(domain.EventNotification, "event:e1", map[string]string{
			"title": "Schedule change", "message": "keynote moved",
		})
		assert.Equal(t, 1, s.UnreadCount())
	})

	t.Run("DisabledCategoryDropped", func(t *testing.T) {
		bus := newFakeBus()
		s := notify.New(localstore.NewMemory(), notify.Options{})
		s.UpdateSettings(notify.SettingsPatch{Poll: ptr(false)})

		detach := s.Attach(bus, "event:e1")
		defer detach()

		bus.emit(domain.EventPollNotification, "event:e1", map[string]string{"title": "New poll"})
		assert.Empty(t, s.List())
		bus.emit(domain.EventMessageNotification, "event:e1", map[string]string{"title": "New message"})
		assert.Len(t, s.List(), 1)
	})

	t.Run("CategoryToggleTakesEffectWithoutReattach", func(t *testing.T) {
		bus := newFakeBus()
		s := notify.New(localstore.NewMemory(), notify.Options{})
		detach := s.Attach(bus, "event:e1")
		defer detach()

		poll := map[string]string{"title": "New poll", "message": "vote now"}
		bus.emit(domain.EventPollNotification, "event:e1", poll)
		assert.Len(t, s.List(), 1)

		s.UpdateSettings(notify.SettingsPatch{Poll: ptr(false)})
		bus.emit(domain.EventPollNotification, "event:e1", poll)
		assert.Len(t, s.List(), 1, "disabled category dropped at delivery")

		s.UpdateSettings(notify.SettingsPatch{Poll: ptr(true)})
		bus.emit(domain.EventPollNotification, "event:e1", poll)
		assert.Len(t, s.List(), 2)
	})

	t.Run("CategoryEventFallbackType", func(t *testing.T) {
		bus := newFakeBus()
		s := notify.New(localstore.NewMemory(), notify.Options{})
		detach := s.Attach(bus, "event:e1")
		defer detach()

		// No explicit type in the payload: the handler's category applies.
		bus.emit(domain.EventQANotification, "event:e1", map[string]string{
			"title": "New question", "message": "why?",
		})
		require.Len(t, s.List(), 1)
		assert.Equal(t, domain.NotifyQA, s.List()[0].Type)
	})

	t.Run("DetachLeavesRoom", func(t *testing.T) {
		bus := newFakeBus()
		s := notify.New(localstore.NewMemory(), notify.Options{})
		detach := s.Attach(bus, "event:e1")
		assert.Equal(t, 1, bus.joined["event:e1"])
		detach()
		assert.Equal(t, 0, bus.joined["event:e1"])
	})
}

func ptr(b bool) *bool { return &b }
