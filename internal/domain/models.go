package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// ItemKind discriminates the content types carried by a topic feed.
type ItemKind string

const (
	KindMessage  ItemKind = "message"
	KindPoll     ItemKind = "poll"
	KindQuestion ItemKind = "question"
)

// FeedItem is the generic envelope for one unit of topic content: a chat
// message, a live poll, or a Q&A question. Items are uniquely identified by
// ID within their topic; a later event for the same ID replaces the stored
// item (edits, vote updates, answers) instead of duplicating it.
type FeedItem struct {
	ID         string          `json:"id"`
	TopicID    string          `json:"topic_id"`
	Kind       ItemKind        `json:"kind"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// ClientRef is the idempotency token generated by the writing client and
	// echoed by the server in broadcasts, so an optimistic local copy can be
	// matched to its authoritative counterpart even when its content is
	// identical to another item's.
	ClientRef string `json:"client_ref,omitempty"`

	// Local-only flags for optimistic entries; never sent on the wire.
	Pending    bool   `json:"-"`
	Failed     bool   `json:"-"`
	FailReason string `json:"-"`
}

// Before reports whether a sorts strictly before b in canonical feed order:
// CreatedAt ascending, ties broken by ID ascending.
func (a *FeedItem) Before(b *FeedItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Topic is one feed scope inside an event: a chat thread, the poll set, or
// the question set.
type Topic struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Kind      ItemKind  `json:"kind"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationType is the category used to gate presentation side effects.
type NotificationType string

const (
	NotifyMessage    NotificationType = "message"
	NotifyPoll       NotificationType = "poll"
	NotifyQA         NotificationType = "qa"
	NotifyForum      NotificationType = "forum"
	NotifyNetworking NotificationType = "networking"
	NotifyEvent      NotificationType = "event"
)

// Notification is one entry in the cross-feature notification feed.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	IsRead    bool             `json:"is_read"`
	SourceRef string           `json:"source_ref,omitempty"`
}

// DesktopPermission mirrors the browser Notification permission tri-state.
type DesktopPermission string

const (
	PermissionDefault DesktopPermission = "default"
	PermissionGranted DesktopPermission = "granted"
	PermissionDenied  DesktopPermission = "denied"
)

// NotificationSettings holds the per-category toggles. Category toggles gate
// presentation side effects and category-specific room handlers; the generic
// notification path always records regardless.
type NotificationSettings struct {
	Message    bool `json:"message"`
	Poll       bool `json:"poll"`
	QA         bool `json:"qa"`
	Forum      bool `json:"forum"`
	Networking bool `json:"networking"`
	Events     bool `json:"events"`
	Sound      bool `json:"sound"`
	Desktop    bool `json:"desktop"`

	DesktopPermission DesktopPermission `json:"desktop_permission"`
}

// DefaultSettings enables every category; desktop alerts stay off until the
// permission prompt resolves.
func DefaultSettings() NotificationSettings {
	return NotificationSettings{
		Message:           true,
		Poll:              true,
		QA:                true,
		Forum:             true,
		Networking:        true,
		Events:            true,
		Sound:             true,
		Desktop:           false,
		DesktopPermission: PermissionDefault,
	}
}

// Category reports whether the toggle for the given notification type is on.
func (s NotificationSettings) Category(t NotificationType) bool {
	switch t {
	case NotifyMessage:
		return s.Message
	case NotifyPoll:
		return s.Poll
	case NotifyQA:
		return s.QA
	case NotifyForum:
		return s.Forum
	case NotifyNetworking:
		return s.Networking
	case NotifyEvent:
		return s.Events
	}
	return true
}

// TypingEntry is one ephemeral "user is composing" record. Entries expire
// locally; no server acknowledgment is needed to clear them.
type TypingEntry struct {
	UserName  string
	ExpiresAt time.Time
}

// ConnState describes the transport session lifecycle.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// Envelope is the wire frame for every push event.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventRoom returns the subscription key for an event's engagement space.
func EventRoom(eventID string) string {
	return "event:" + eventID
}

// DirectRoom returns the subscription key for a private chat pair. The pair
// is sorted so both peers derive the same key.
func DirectRoom(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return "chat:" + strings.Join(ids, ":")
}
