package notify

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"engage/internal/domain"
	"engage/internal/realtime/transport"
)

const (
	snapshotKey = "engage.notifications"
	settingsKey = "engage.notification_settings"
)

// SoundPlayer and DesktopAlerter are the presentation side effects triggered
// by the dispatch wrapper, never by the reducer.
type SoundPlayer interface {
	Play()
}

type DesktopAlerter interface {
	Alert(n domain.Notification)
}

// Bus is the slice of the transport session the store subscribes through.
type Bus interface {
	On(event, room string, fn transport.Handler) func()
	JoinRoom(room string)
	LeaveRoom(room string)
}

// Options tunes a Store.
type Options struct {
	Cap     int // retained window; oldest entries beyond it are evicted
	Sound   SoundPlayer
	Desktop DesktopAlerter
	Now     func() time.Time
}

// Store is the process-wide notification state machine. All mutation goes
// through Dispatch; other components never touch its fields. Every state
// change is persisted best-effort to the local snapshot.
type Store struct {
	kv   domain.KeyValue
	opts Options

	mu       sync.Mutex
	state    State
	settings domain.NotificationSettings
	changed  chan struct{}
}

// New initializes the store from the persisted snapshot. Corrupt or missing
// snapshots are discarded, never fatal.
func New(kv domain.KeyValue, opts Options) *Store {
	if opts.Cap <= 0 {
		opts.Cap = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		kv:       kv,
		opts:     opts,
		settings: domain.DefaultSettings(),
		changed:  make(chan struct{}, 1),
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	if s.kv == nil {
		return
	}
	if raw, ok, err := s.kv.Get(snapshotKey); err != nil {
		log.Printf("notify: read snapshot: %v", err)
	} else if ok {
		var list []domain.Notification
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			log.Printf("notify: discarding corrupt snapshot: %v", err)
		} else {
			s.state = Reduce(State{}, Action{Type: ActionSetSnapshot, Snapshot: list}, s.opts.Cap)
		}
	}
	if raw, ok, err := s.kv.Get(settingsKey); err != nil {
		log.Printf("notify: read settings: %v", err)
	} else if ok {
		var settings domain.NotificationSettings
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			log.Printf("notify: discarding corrupt settings: %v", err)
		} else {
			s.settings = settings
		}
	}
}

// Dispatch applies one action and persists the resulting state.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, a, s.opts.Cap)
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// Publish stamps and records an inbound notification, then fires the
// presentation side effects its category allows. A muted category still
// updates the badge state; settings gate presentation only.
func (s *Store) Publish(t domain.NotificationType, title, message, sourceRef string) domain.Notification {
	n := domain.Notification{
		ID:        ulid.Make().String(),
		Type:      t,
		Title:     title,
		Message:   message,
		CreatedAt: s.opts.Now(),
		SourceRef: sourceRef,
	}
	s.Dispatch(Action{Type: ActionAdd, Notification: n})

	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	if settings.Category(t) {
		if settings.Sound && s.opts.Sound != nil {
			s.opts.Sound.Play()
		}
		if settings.Desktop && settings.DesktopPermission == domain.PermissionGranted && s.opts.Desktop != nil {
			s.opts.Desktop.Alert(n)
		}
	}
	return n
}

// List returns a copy of the feed, newest first.
func (s *Store) List() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneList(s.state.List)
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UnreadCount
}

func (s *Store) MarkAsRead(id string)  { s.Dispatch(Action{Type: ActionMarkRead, ID: id}) }
func (s *Store) MarkAllAsRead()        { s.Dispatch(Action{Type: ActionMarkAllRead}) }
func (s *Store) Remove(id string)      { s.Dispatch(Action{Type: ActionRemove, ID: id}) }

// ClearAll empties the feed and the persisted snapshot. Ordinary logout does
// not call this; the snapshot survives for the next session.
func (s *Store) ClearAll() {
	s.Dispatch(Action{Type: ActionClearAll})
	if s.kv != nil {
		if err := s.kv.Delete(snapshotKey); err != nil {
			log.Printf("notify: clear snapshot: %v", err)
		}
	}
}

// Settings returns the current settings value.
func (s *Store) Settings() domain.NotificationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	Message    *bool
	Poll       *bool
	QA         *bool
	Forum      *bool
	Networking *bool
	Events     *bool
	Sound      *bool
	Desktop    *bool

	DesktopPermission *domain.DesktopPermission
}

// UpdateSettings applies a partial update and persists the result.
func (s *Store) UpdateSettings(p SettingsPatch) domain.NotificationSettings {
	s.mu.Lock()
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&s.settings.Message, p.Message)
	apply(&s.settings.Poll, p.Poll)
	apply(&s.settings.QA, p.QA)
	apply(&s.settings.Forum, p.Forum)
	apply(&s.settings.Networking, p.Networking)
	apply(&s.settings.Events, p.Events)
	apply(&s.settings.Sound, p.Sound)
	apply(&s.settings.Desktop, p.Desktop)
	if p.DesktopPermission != nil {
		s.settings.DesktopPermission = *p.DesktopPermission
	}
	settings := s.settings
	s.persistSettingsLocked()
	s.mu.Unlock()
	s.notify()
	return settings
}

// Changed returns the coalesced badge-update channel.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

type notificationFrame struct {
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	SourceRef string                  `json:"source_ref,omitempty"`
}

// Attach subscribes the store to a room's notification events. The generic
// "notification" event always records; category-specific events consult the
// current settings on every delivery, so toggling a category takes effect
// immediately without re-attaching. Returns the detach function.
func (s *Store) Attach(bus Bus, room string) func() {
	bus.JoinRoom(room)

	handler := func(fallback domain.NotificationType) transport.Handler {
		return func(_ string, payload json.RawMessage) {
			var frame notificationFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				log.Printf("notify: drop malformed notification: %v", err)
				return
			}
			if frame.Type == "" {
				frame.Type = fallback
			}
			s.Publish(frame.Type, frame.Title, frame.Message, frame.SourceRef)
		}
	}

	offs := []func(){
		bus.On(domain.EventNotification, room, handler(domain.NotifyEvent)),
	}

	categories := []domain.NotificationType{
		domain.NotifyMessage, domain.NotifyPoll, domain.NotifyQA,
		domain.NotifyForum, domain.NotifyNetworking, domain.NotifyEvent,
	}
	for _, cat := range categories {
		record := handler(cat)
		offs = append(offs, bus.On(domain.CategoryEvent(cat), room, func(room string, payload json.RawMessage) {
			if !s.Settings().Category(cat) {
				return
			}
			record(room, payload)
		}))
	}

	return func() {
		for _, off := range offs {
			off()
		}
		bus.LeaveRoom(room)
	}
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	b, err := json.Marshal(s.state.List)
	if err != nil {
		log.Printf("notify: encode snapshot: %v", err)
		return
	}
	if err := s.kv.Set(snapshotKey, string(b)); err != nil {
		log.Printf("notify: persist snapshot: %v", err)
	}
}

func (s *Store) persistSettingsLocked() {
	if s.kv == nil {
		return
	}
	b, err := json.Marshal(s.settings)
	if err != nil {
		log.Printf("notify: encode settings: %v", err)
		return
	}
	if err := s.kv.Set(settingsKey, string(b)); err != nil {
		log.Printf("notify: persist settings: %v", err)
	}
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
