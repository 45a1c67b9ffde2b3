package presence

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"engage/internal/domain"
	"engage/internal/realtime/transport"
)

// Bus is the slice of the transport session the coordinator uses.
type Bus interface {
	On(event, room string, fn transport.Handler) func()
	Send(event, room string, payload any) error
	JoinRoom(room string)
	LeaveRoom(room string)
}

// Options tunes the typing coordinator. TTL should slightly exceed the
// sender-side debounce so a continuously typing peer never flickers.
type Options struct {
	TTL      time.Duration // receive-side entry lifetime
	Debounce time.Duration // send-side suppression window and idle timeout
	Sweep    time.Duration // expiry sweep interval
	Now      func() time.Time
}

func (o *Options) withDefaults() {
	if o.TTL <= 0 {
		o.TTL = 3 * time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.Sweep <= 0 {
		o.Sweep = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type typingFrame struct {
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name"`
}

type roomState struct {
	entries  map[string]time.Time // userName -> expiresAt
	watchers map[chan []domain.TypingEntry]struct{}
	offs     []func()

	// Send side. Owns its own timer; the receive-side sweep never touches it,
	// so clear-on-stop and clear-on-expiry cannot race each other.
	lastStart time.Time
	idleTimer *time.Timer
	typing    bool
}

// Coordinator tracks per-room ephemeral typing state. Entries expire on a
// local sweep; a dropped stop-event self-heals. Nothing here is persisted.
type Coordinator struct {
	bus   Bus
	creds domain.TokenSource
	opts  Options

	mu     sync.Mutex
	rooms  map[string]*roomState
	closed bool
	done   chan struct{}
}

func New(bus Bus, creds domain.TokenSource, opts Options) *Coordinator {
	opts.withDefaults()
	c := &Coordinator{
		bus:   bus,
		creds: creds,
		opts:  opts,
		rooms: make(map[string]*roomState),
		done:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Watch subscribes to a room's typing set. Each state change delivers a full
// snapshot, sorted by user name. The returned cancel releases exactly this
// watcher and its share of the room reference.
func (c *Coordinator) Watch(room string) (<-chan []domain.TypingEntry, func()) {
	ch := make(chan []domain.TypingEntry, 4)

	c.mu.Lock()
	rs, ok := c.rooms[room]
	if !ok {
		rs = &roomState{
			entries:  make(map[string]time.Time),
			watchers: make(map[chan []domain.TypingEntry]struct{}),
		}
		c.rooms[room] = rs
		c.bus.JoinRoom(room)
		rs.offs = append(rs.offs,
			c.bus.On(domain.EventUserTyping, room, c.onTyping),
			c.bus.On(domain.EventUserStoppedTyping, room, c.onStopped),
		)
	}
	rs.watchers[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		rs, ok := c.rooms[room]
		if !ok {
			return
		}
		delete(rs.watchers, ch)
		if len(rs.watchers) == 0 {
			for _, off := range rs.offs {
				off()
			}
			if rs.idleTimer != nil {
				rs.idleTimer.Stop()
			}
			delete(c.rooms, room)
			c.bus.LeaveRoom(room)
		}
	}
}

// InputActivity reports a keystroke in the given room. The start frame is
// debounced: repeated calls inside the window send nothing, and an idle
// timeout emits the stop frame when keystrokes cease.
func (c *Coordinator) InputActivity(room string) {
	c.mu.Lock()
	rs, ok := c.rooms[room]
	if !ok {
		c.mu.Unlock()
		return
	}
	now := c.opts.Now()
	shouldSend := !rs.typing || now.Sub(rs.lastStart) >= c.opts.Debounce
	if shouldSend {
		rs.typing = true
		rs.lastStart = now
	}
	if rs.idleTimer != nil {
		rs.idleTimer.Stop()
	}
	rs.idleTimer = time.AfterFunc(c.opts.Debounce, func() { c.StopTyping(room) })
	c.mu.Unlock()

	if shouldSend {
		c.sendTyping(domain.EventUserTyping, room)
	}
}

// StopTyping emits the stop frame, called on submit, blur, or idle timeout.
func (c *Coordinator) StopTyping(room string) {
	c.mu.Lock()
	rs, ok := c.rooms[room]
	if !ok || !rs.typing {
		c.mu.Unlock()
		return
	}
	rs.typing = false
	if rs.idleTimer != nil {
		rs.idleTimer.Stop()
		rs.idleTimer = nil
	}
	c.mu.Unlock()

	c.sendTyping(domain.EventUserStoppedTyping, room)
}

// Close stops the sweep loop and releases every room.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	for room, rs := range c.rooms {
		for _, off := range rs.offs {
			off()
		}
		if rs.idleTimer != nil {
			rs.idleTimer.Stop()
		}
		c.bus.LeaveRoom(room)
		delete(c.rooms, room)
	}
	c.mu.Unlock()
}

func (c *Coordinator) sendTyping(event, room string) {
	frame := typingFrame{UserID: c.creds.UserID(), UserName: c.creds.DisplayName()}
	if err := c.bus.Send(event, room, frame); err != nil {
		// Best effort: a lost frame heals via the receiver's expiry.
		log.Printf("presence: send %s: %v", event, err)
	}
}

func (c *Coordinator) onTyping(room string, payload json.RawMessage) {
	var frame typingFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.UserName == "" {
		return
	}
	if frame.UserName == c.creds.DisplayName() {
		return
	}
	c.mu.Lock()
	rs, ok := c.rooms[room]
	if ok {
		rs.entries[frame.UserName] = c.opts.Now().Add(c.opts.TTL)
		c.emitLocked(rs)
	}
	c.mu.Unlock()
}

func (c *Coordinator) onStopped(room string, payload json.RawMessage) {
	var frame typingFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.UserName == "" {
		return
	}
	c.mu.Lock()
	rs, ok := c.rooms[room]
	if ok {
		if _, present := rs.entries[frame.UserName]; present {
			delete(rs.entries, frame.UserName)
			c.emitLocked(rs)
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.opts.Sweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops expired entries; no stop acknowledgment is required.
func (c *Coordinator) sweep() {
	now := c.opts.Now()
	c.mu.Lock()
	for _, rs := range c.rooms {
		dirty := false
		for name, exp := range rs.entries {
			if !exp.After(now) {
				delete(rs.entries, name)
				dirty = true
			}
		}
		if dirty {
			c.emitLocked(rs)
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) emitLocked(rs *roomState) {
	snapshot := make([]domain.TypingEntry, 0, len(rs.entries))
	for name, exp := range rs.entries {
		snapshot = append(snapshot, domain.TypingEntry{UserName: name, ExpiresAt: exp})
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserName < snapshot[j].UserName })
	for ch := range rs.watchers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
