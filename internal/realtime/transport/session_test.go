package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engage/internal/domain"
	"engage/internal/realtime/transport"
)

var creds = domain.StaticCredentials{AuthToken: "tok", ID: "u1", Name: "alice"}

// pushServer is a minimal scripted push endpoint: it records inbound frames
// and lets tests write arbitrary envelopes back.
type pushServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []domain.Envelope

	srv *httptest.Server
}

func newPushServer(t *testing.T) *pushServer {
	ps := &pushServer{t: t}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ps.mu.Lock()
			ps.received = append(ps.received, env)
			ps.mu.Unlock()
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) frames() []domain.Envelope {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]domain.Envelope, len(ps.received))
	copy(out, ps.received)
	return out
}

func (ps *pushServer) framesOf(event string) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range ps.frames() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (ps *pushServer) push(env domain.Envelope) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.NotEmpty(ps.t, ps.conns)
	require.NoError(ps.t, ps.conns[len(ps.conns)-1].WriteJSON(env))
}

func (ps *pushServer) dropConnections() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range ps.conns {
		c.Close()
	}
	ps.conns = nil
}

func connect(t *testing.T, ps *pushServer) *transport.Session {
	t.Helper()
	sess, err := transport.Connect(context.Background(), ps.wsURL(), creds, transport.Options{
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func TestConnectAuthRejected(t *testing.T) {
	ps := newPushServer(t)
	bad := domain.StaticCredentials{AuthToken: "wrong", ID: "u1", Name: "alice"}

	_, err := transport.Connect(context.Background(), ps.wsURL(), bad, transport.Options{})
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestConnectTransportFailure(t *testing.T) {
	_, err := transport.Connect(context.Background(), "ws://127.0.0.1:1/ws", creds, transport.Options{})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestJoinLeaveRefCounting(t *testing.T) {
	ps := newPushServer(t)
	sess := connect(t, ps)

	// Three references, one physical join frame.
	sess.JoinRoom("event:e1")
	sess.JoinRoom("event:e1")
	sess.JoinRoom("event:e1")

	require.Eventually(t, func() bool {
		return len(ps.framesOf(domain.EventJoin)) == 1
	}, time.Second, 5*time.Millisecond)

	// Two releases keep the subscription; the third sends the leave frame.
	sess.LeaveRoom("event:e1")
	sess.LeaveRoom("event:e1")
	assert.Empty(t, ps.framesOf(domain.EventLeave))

	sess.LeaveRoom("event:e1")
	require.Eventually(t, func() bool {
		return len(ps.framesOf(domain.EventLeave)) == 1
	}, time.Second, 5*time.Millisecond)

	// Leaving an unreferenced room sends nothing.
	sess.LeaveRoom("event:e1")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ps.framesOf(domain.EventLeave), 1)
}

func TestDispatchAndHandlerRemoval(t *testing.T) {
	ps := newPushServer(t)
	sess := connect(t, ps)
	sess.JoinRoom("event:e1")

	var mu sync.Mutex
	var got []string
	record := func(tag string) transport.Handler {
		return func(_ string, payload json.RawMessage) {
			mu.Lock()
			got = append(got, tag+":"+string(payload))
			mu.Unlock()
		}
	}

	offA := sess.On("new-message", "event:e1", record("a"))
	sess.On("new-message", "event:e1", record("b"))

	ps.push(domain.Envelope{Event: "new-message", Room: "event:e1", Payload: json.RawMessage(`1`)})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	// Removing one registration leaves the other delivering.
	offA()
	ps.push(domain.Envelope{Event: "new-message", Room: "event:e1", Payload: json.RawMessage(`2`)})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "b:2", got[2])
}

func TestEventsForUnjoinedRoomDropped(t *testing.T) {
	ps := newPushServer(t)
	sess := connect(t, ps)
	sess.JoinRoom("event:e1")

	var mu sync.Mutex
	delivered := 0
	sess.On("new-message", "event:e2", func(string, json.RawMessage) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	// The server misdelivers an event for a room we never joined.
	ps.push(domain.Envelope{Event: "new-message", Room: "event:e2", Payload: json.RawMessage(`{}`)})
	ps.push(domain.Envelope{Event: "new-message", Room: "event:e1", Payload: json.RawMessage(`{}`)})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, delivered)
}

func TestReconnectReplaysJoins(t *testing.T) {
	ps := newPushServer(t)
	sess := connect(t, ps)

	states, stop := sess.StateChanges()
	defer stop()

	sess.JoinRoom("event:e1")
	sess.JoinRoom("event:e2")
	require.Eventually(t, func() bool {
		return len(ps.framesOf(domain.EventJoin)) == 2
	}, time.Second, 5*time.Millisecond)

	ps.dropConnections()

	// The session reconnects on its own and replays both memberships.
	require.Eventually(t, func() bool {
		return len(ps.framesOf(domain.EventJoin)) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateConnected, sess.State())

	rooms := map[string]int{}
	for _, env := range ps.framesOf(domain.EventJoin) {
		rooms[env.Room]++
	}
	assert.Equal(t, 2, rooms["event:e1"])
	assert.Equal(t, 2, rooms["event:e2"])

	// The watcher observed the round trip.
	seen := map[domain.ConnState]bool{}
	deadline := time.After(time.Second)
	for !seen[domain.StateReconnecting] || !seen[domain.StateConnected] {
		select {
		case st := <-states:
			seen[st] = true
		case <-deadline:
			t.Fatal("missing state transitions")
		}
	}

	// Events keep flowing on the new connection.
	var mu sync.Mutex
	delivered := 0
	sess.On("new-message", "event:e1", func(string, json.RawMessage) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	ps.push(domain.Envelope{Event: "new-message", Room: "event:e1", Payload: json.RawMessage(`{}`)})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSendWhileDisconnected(t *testing.T) {
	ps := newPushServer(t)
	sess := connect(t, ps)
	sess.Close()

	err := sess.Send(domain.EventUserTyping, "event:e1", map[string]string{"user_name": "alice"})
	assert.ErrorIs(t, err, domain.ErrTransport)
}
