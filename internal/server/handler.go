package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"engage/internal/domain"
	"engage/internal/security"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeWSHandler returns an HTTP handler for the /ws push endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), then processes control frames:
//   - join / leave              -> room subscription bookkeeping
//   - user-typing / stopped     -> forward to the room, except the sender
//
// Content events never arrive on this socket; they enter through the REST
// handlers and fan out from there.
func MakeWSHandler(hub *Hub, tokens *security.TokenService, allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := NewClient(conn, claims.UserID, claims.Username)
		defer hub.Drop(client)

		for {
			var frame domain.Envelope
			if err := conn.ReadJSON(&frame); err != nil {
				break
			}

			switch frame.Event {
			case domain.EventJoin:
				if frame.Room == "" {
					sendError(client, "join requires a room")
					continue
				}
				hub.Join(frame.Room, client)

			case domain.EventLeave:
				if frame.Room == "" {
					continue
				}
				hub.Leave(frame.Room, client)

			case domain.EventUserTyping, domain.EventUserStoppedTyping:
				if frame.Room == "" {
					continue
				}
				// Rebuild the payload from the authenticated identity so a
				// client cannot impersonate another typist.
				payload, err := json.Marshal(map[string]string{
					"user_id":   client.UserID,
					"user_name": client.Username,
				})
				if err != nil {
					continue
				}
				hub.Broadcast(frame.Room, domain.Envelope{
					Event:   frame.Event,
					Room:    frame.Room,
					Payload: payload,
				}, client)

			default:
				log.Printf("ws: unknown event %q from user %s", frame.Event, client.UserID)
			}
		}
	}
}

func sendError(c *Client, msg string) {
	_ = c.Send(domain.Envelope{
		Event:   "error",
		Payload: json.RawMessage(fmt.Sprintf(`{"message":%q}`, msg)),
	})
}
