package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"engage/internal/domain"
)

// Handler receives one push event scoped to the room it was registered for.
// Handlers run sequentially on the session's dispatch goroutine; within one
// room they observe events in transport-arrival order.
type Handler func(room string, payload json.RawMessage)

// Options tunes the reconnect behaviour of a Session.
type Options struct {
	// ReconnectMin/ReconnectMax bound the exponential backoff between
	// reconnect attempts. Retrying is indefinite while the session is alive.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

type registration struct {
	fn Handler
}

// Session owns the single logical push channel of one authenticated client.
// Room membership is reference-counted: the physical subscribe frame is sent
// on the 0->1 transition only, the unsubscribe frame on 1->0, and the full
// membership table is replayed before any event is dispatched after a
// reconnect.
type Session struct {
	wsURL string
	creds domain.TokenSource
	opts  Options

	mu       sync.Mutex
	conn     *websocket.Conn
	gen      int
	rooms    map[string]int
	handlers map[string]map[string][]*registration // room -> event -> regs
	state    domain.ConnState
	lastErr  error
	closed   bool
	subs     map[chan domain.ConnState]struct{}

	writeMu sync.Mutex
}

// Connect establishes the channel. A rejected credential surfaces
// domain.ErrAuth; network failures surface domain.ErrTransport and are
// retryable by calling Connect again.
func Connect(ctx context.Context, wsURL string, creds domain.TokenSource, opts Options) (*Session, error) {
	opts.withDefaults()

	s := &Session{
		wsURL:    wsURL,
		creds:    creds,
		opts:     opts,
		rooms:    make(map[string]int),
		handlers: make(map[string]map[string][]*registration),
		state:    domain.StateReconnecting,
		subs:     make(map[chan domain.ConnState]struct{}),
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.setStateLocked(domain.StateConnected)
	gen := s.gen
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	return s, nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.creds.Token())

	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: push channel rejected credentials (%d)", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransport, s.wsURL, err)
	}
	return conn, nil
}

// JoinRoom increments the room's reference count. The subscribe frame is sent
// only when the count transitions 0->1; while reconnecting, the frame is
// replayed automatically once the channel is back.
func (s *Session) JoinRoom(room string) {
	s.mu.Lock()
	s.rooms[room]++
	first := s.rooms[room] == 1
	connected := s.state == domain.StateConnected
	conn := s.conn
	s.mu.Unlock()

	if first && connected {
		s.writeEnvelope(conn, domain.Envelope{Event: domain.EventJoin, Room: room})
	}
}

// LeaveRoom decrements the reference count and unsubscribes on 1->0. Leaving
// a room not currently joined is a no-op.
func (s *Session) LeaveRoom(room string) {
	s.mu.Lock()
	n, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return
	}
	n--
	last := n == 0
	if last {
		delete(s.rooms, room)
	} else {
		s.rooms[room] = n
	}
	connected := s.state == domain.StateConnected
	conn := s.conn
	s.mu.Unlock()

	if last && connected {
		s.writeEnvelope(conn, domain.Envelope{Event: domain.EventLeave, Room: room})
	}
}

// On registers a room-scoped handler and returns the function that removes
// exactly that registration. Delivery only happens while the room is joined.
func (s *Session) On(event, room string, fn Handler) (off func()) {
	reg := &registration{fn: fn}

	s.mu.Lock()
	byEvent, ok := s.handlers[room]
	if !ok {
		byEvent = make(map[string][]*registration)
		s.handlers[room] = byEvent
	}
	byEvent[event] = append(byEvent[event], reg)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		regs := s.handlers[room][event]
		for i, r := range regs {
			if r == reg {
				s.handlers[room][event] = append(regs[:i], regs[i+1:]...)
				break
			}
		}
	}
}

// Send publishes a fire-and-forget frame. Callers needing confirmation pair
// it with a REST write or an expected echo event.
func (s *Session) Send(event, room string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = b
	}

	s.mu.Lock()
	conn := s.conn
	connected := s.state == domain.StateConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("%w: channel not connected", domain.ErrTransport)
	}
	return s.writeEnvelope(conn, domain.Envelope{Event: event, Room: room, Payload: raw})
}

// State returns the current connection state.
func (s *Session) State() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if the session has one (domain.ErrAuth
// after a hard credential rejection).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// StateChanges returns a channel of state transitions and the function that
// cancels the subscription. Transitions are coalesced if the receiver lags.
func (s *Session) StateChanges() (<-chan domain.ConnState, func()) {
	ch := make(chan domain.ConnState, 4)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// Close tears the session down. No reconnect is attempted afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.setStateLocked(domain.StateClosed)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.handleDisconnect(conn, gen, err)
			return
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env domain.Envelope) {
	s.mu.Lock()
	if env.Room != "" && s.rooms[env.Room] == 0 {
		// Event for a room we no longer reference: dropped, never attributed.
		s.mu.Unlock()
		return
	}
	regs := s.handlers[env.Room][env.Event]
	fns := make([]Handler, len(regs))
	for i, r := range regs {
		fns[i] = r.fn
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(env.Room, env.Payload)
	}
}

func (s *Session) handleDisconnect(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.gen++
	if isAuthClose(err) {
		// The server revoked our credentials mid-stream: terminal.
		s.closed = true
		s.lastErr = fmt.Errorf("%w: %v", domain.ErrAuth, err)
		s.setStateLocked(domain.StateClosed)
		s.mu.Unlock()
		return
	}
	s.setStateLocked(domain.StateReconnecting)
	gen = s.gen
	s.mu.Unlock()

	go s.reconnectLoop(gen)
}

func (s *Session) reconnectLoop(gen int) {
	backoff := s.opts.ReconnectMin
	for {
		time.Sleep(backoff)

		s.mu.Lock()
		if s.closed || gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		conn, err := s.dial(context.Background())
		if err != nil {
			if errorIsAuth(err) {
				s.mu.Lock()
				s.closed = true
				s.lastErr = err
				s.setStateLocked(domain.StateClosed)
				s.mu.Unlock()
				return
			}
			log.Printf("transport: reconnect failed, next attempt in %s: %v", backoff, err)
			backoff *= 2
			if backoff > s.opts.ReconnectMax {
				backoff = s.opts.ReconnectMax
			}
			continue
		}

		// Replay the membership table before any event can be dispatched on
		// the new connection, so no subscription is lost across the reconnect.
		s.mu.Lock()
		if s.closed || gen != s.gen {
			s.mu.Unlock()
			conn.Close()
			return
		}
		rooms := make([]string, 0, len(s.rooms))
		for room, n := range s.rooms {
			if n > 0 {
				rooms = append(rooms, room)
			}
		}
		s.mu.Unlock()

		ok := true
		for _, room := range rooms {
			if err := s.writeEnvelope(conn, domain.Envelope{Event: domain.EventJoin, Room: room}); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			conn.Close()
			backoff *= 2
			if backoff > s.opts.ReconnectMax {
				backoff = s.opts.ReconnectMax
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.gen++
		newGen := s.gen
		s.setStateLocked(domain.StateConnected)
		s.mu.Unlock()

		go s.readLoop(conn, newGen)
		return
	}
}

func (s *Session) writeEnvelope(conn *websocket.Conn, env domain.Envelope) error {
	if conn == nil {
		return fmt.Errorf("%w: channel not connected", domain.ErrTransport)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrTransport, env.Event, err)
	}
	return nil
}

// setStateLocked records the transition and notifies watchers. Callers hold mu.
func (s *Session) setStateLocked(state domain.ConnState) {
	if s.state == state {
		return
	}
	s.state = state
	for ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func isAuthClose(err error) bool {
	return websocket.IsCloseError(err, websocket.ClosePolicyViolation)
}

func errorIsAuth(err error) bool {
	return errors.Is(err, domain.ErrAuth)
}
