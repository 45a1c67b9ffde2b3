package presence_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engage/internal/domain"
	"engage/internal/realtime/presence"
	"engage/internal/realtime/transport"
)

type sentFrame struct {
	event string
	room  string
}

// fakeBus captures outbound frames and lets tests inject inbound ones.
type fakeBus struct {
	mu       sync.Mutex
	joined   map[string]int
	sent     []sentFrame
	nextID   int
	handlers map[string]map[int]transport.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{joined: make(map[string]int), handlers: make(map[string]map[int]transport.Handler)}
}

func (b *fakeBus) JoinRoom(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined[room]++
}

func (b *fakeBus) LeaveRoom(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined[room]--
}

func (b *fakeBus) On(event, _ string, fn transport.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]transport.Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[event][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[event], id)
	}
}

func (b *fakeBus) Send(event, room string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentFrame{event: event, room: room})
	return nil
}

func (b *fakeBus) sentEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, f := range b.sent {
		out[i] = f.event
	}
	return out
}

func (b *fakeBus) emit(event, room, userName string) {
	raw, _ := json.Marshal(map[string]string{"user_name": userName})
	b.mu.Lock()
	fns := make([]transport.Handler, 0, len(b.handlers[event]))
	for _, fn := range b.handlers[event] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(room, raw)
	}
}

var creds = domain.StaticCredentials{AuthToken: "tok", ID: "u1", Name: "alice"}

func receive(t *testing.T, ch <-chan []domain.TypingEntry) []domain.TypingEntry {
	t.Helper()
	select {
	case entries := <-ch:
		return entries
	case <-time.After(time.Second):
		t.Fatal("no typing snapshot received")
		return nil
	}
}

func TestTypingReceive(t *testing.T) {
	bus := newFakeBus()
	c := presence.New(bus, creds, presence.Options{TTL: time.Minute, Sweep: time.Minute})
	defer c.Close()

	ch, cancel := c.Watch("event:e1")
	defer cancel()

	t.Run("StartAddsEntry", func(t *testing.T) {
		bus.emit(domain.EventUserTyping, "event:e1", "bob")
		entries := receive(t, ch)
		require.Len(t, entries, 1)
		assert.Equal(t, "bob", entries[0].UserName)
	})

	t.Run("SnapshotIsSorted", func(t *testing.T) {
		bus.emit(domain.EventUserTyping, "event:e1", "zoe")
		bus.emit(domain.EventUserTyping, "event:e1", "carol")
		entries := receive(t, ch)
		entries = receive(t, ch)
		require.Len(t, entries, 3)
		assert.Equal(t, "bob", entries[0].UserName)
		assert.Equal(t, "carol", entries[1].UserName)
		assert.Equal(t, "zoe", entries[2].UserName)
	})

	t.Run("StopRemovesEntry", func(t *testing.T) {
		bus.emit(domain.EventUserStoppedTyping, "event:e1", "bob")
		entries := receive(t, ch)
		for _, e := range entries {
			assert.NotEqual(t, "bob", e.UserName)
		}
	})

	t.Run("OwnFramesIgnored", func(t *testing.T) {
		bus.emit(domain.EventUserTyping, "event:e1", "alice")
		select {
		case entries := <-ch:
			for _, e := range entries {
				assert.NotEqual(t, "alice", e.UserName)
			}
		case <-time.After(50 * time.Millisecond):
			// No snapshot at all is equally fine.
		}
	})
}

// A peer whose stop frame is lost disappears once its entry outlives the TTL.
func TestTypingExpiry(t *testing.T) {
	bus := newFakeBus()
	c := presence.New(bus, creds, presence.Options{TTL: 40 * time.Millisecond, Sweep: 10 * time.Millisecond})
	defer c.Close()

	ch, cancel := c.Watch("event:e1")
	defer cancel()

	bus.emit(domain.EventUserTyping, "event:e1", "bob")
	entries := receive(t, ch)
	require.Len(t, entries, 1)

	deadline := time.After(time.Second)
	for {
		select {
		case entries = <-ch:
			if len(entries) == 0 {
				return
			}
		case <-deadline:
			t.Fatal("entry never expired")
		}
	}
}

func TestTypingSendDebounce(t *testing.T) {
	bus := newFakeBus()
	c := presence.New(bus, creds, presence.Options{TTL: time.Minute, Debounce: time.Hour, Sweep: time.Minute})
	defer c.Close()

	_, cancel := c.Watch("event:e1")
	defer cancel()

	c.InputActivity("event:e1")
	c.InputActivity("event:e1")
	c.InputActivity("event:e1")

	assert.Equal(t, []string{domain.EventUserTyping}, bus.sentEvents())

	t.Run("ExplicitStopSendsOnce", func(t *testing.T) {
		c.StopTyping("event:e1")
		c.StopTyping("event:e1")
		assert.Equal(t, []string{domain.EventUserTyping, domain.EventUserStoppedTyping}, bus.sentEvents())
	})

	t.Run("NextActivityStartsAgain", func(t *testing.T) {
		c.InputActivity("event:e1")
		assert.Equal(t, []string{
			domain.EventUserTyping, domain.EventUserStoppedTyping, domain.EventUserTyping,
		}, bus.sentEvents())
	})
}

func TestTypingIdleTimeout(t *testing.T) {
	bus := newFakeBus()
	c := presence.New(bus, creds, presence.Options{TTL: time.Minute, Debounce: 30 * time.Millisecond, Sweep: time.Minute})
	defer c.Close()

	_, cancel := c.Watch("event:e1")
	defer cancel()

	c.InputActivity("event:e1")

	assert.Eventually(t, func() bool {
		events := bus.sentEvents()
		return len(events) == 2 && events[1] == domain.EventUserStoppedTyping
	}, time.Second, 5*time.Millisecond)
}

func TestTypingWatchLifecycle(t *testing.T) {
	bus := newFakeBus()
	c := presence.New(bus, creds, presence.Options{TTL: time.Minute, Sweep: time.Minute})
	defer c.Close()

	ch1, cancel1 := c.Watch("event:e1")
	_, cancel2 := c.Watch("event:e1")

	bus.mu.Lock()
	joined := bus.joined["event:e1"]
	bus.mu.Unlock()
	assert.Equal(t, 1, joined, "one physical join for two watchers")

	cancel2()
	bus.emit(domain.EventUserTyping, "event:e1", "bob")
	require.Len(t, receive(t, ch1), 1, "remaining watcher still served")

	cancel1()
	bus.mu.Lock()
	joined = bus.joined["event:e1"]
	bus.mu.Unlock()
	assert.Equal(t, 0, joined, "room released with the last watcher")
}
