package feed

import (
	"encoding/json"
	"log"

	"engage/internal/domain"
	"engage/internal/realtime/transport"
)

// Bus is the slice of the transport session a binding needs.
type Bus interface {
	JoinRoom(room string)
	LeaveRoom(room string)
	On(event, room string, fn transport.Handler) func()
}

// RemoteSink consumes decoded push events for one topic. The reconciler is
// the terminal sink; the optimistic tracker interposes to catch echoes of its
// own in-flight writes first.
type RemoteSink interface {
	HandleRemote(ev RemoteEvent)
}

// kindEvents lists, per item kind, which push events upsert and which delete.
var kindEvents = map[domain.ItemKind]struct {
	upsert []string
	remove []string
}{
	domain.KindMessage: {
		upsert: []string{domain.EventNewMessage, domain.EventMessageEdited, domain.EventMessageReaction},
		remove: []string{domain.EventMessageDeleted},
	},
	domain.KindPoll: {
		upsert: []string{domain.EventPollCreated, domain.EventPollUpdated, domain.EventPollEnded},
	},
	domain.KindQuestion: {
		upsert: []string{domain.EventQuestionAdded, domain.EventQuestionUpdated, domain.EventQuestionVoted},
	},
}

// Binding subscribes one reconciler to its room. It joins the room through
// the session's reference counter and, on Close, removes exactly the
// handlers it registered so a second view on the same room keeps its events.
type Binding struct {
	bus  Bus
	room string
	offs []func()
}

type deleteFrame struct {
	ID string `json:"id"`
}

// Bind joins the room and registers the handler set for the reconciler's
// kind, routing every decoded event through sink.
func Bind(bus Bus, room string, rec *Reconciler, sink RemoteSink) *Binding {
	if sink == nil {
		sink = rec
	}
	b := &Binding{bus: bus, room: room}
	bus.JoinRoom(room)

	events := kindEvents[rec.Kind()]
	for _, ev := range events.upsert {
		b.offs = append(b.offs, bus.On(ev, room, func(_ string, payload json.RawMessage) {
			var item domain.FeedItem
			if err := json.Unmarshal(payload, &item); err != nil {
				log.Printf("feed: drop malformed %s payload: %v", rec.Kind(), err)
				return
			}
			if item.TopicID != rec.TopicID() {
				return
			}
			sink.HandleRemote(RemoteEvent{Type: Upsert, Item: &item})
		}))
	}
	for _, ev := range events.remove {
		b.offs = append(b.offs, bus.On(ev, room, func(_ string, payload json.RawMessage) {
			var frame deleteFrame
			if err := json.Unmarshal(payload, &frame); err != nil || frame.ID == "" {
				log.Printf("feed: drop malformed delete payload: %v", err)
				return
			}
			sink.HandleRemote(RemoteEvent{Type: Delete, ItemID: frame.ID})
		}))
	}
	return b
}

// HandleRemote makes *Reconciler itself a RemoteSink.
func (r *Reconciler) HandleRemote(ev RemoteEvent) {
	r.ApplyRemote(ev)
}

// Close deregisters this binding's handlers and releases the room reference.
// A REST write still in flight for this room resolves without a visible view.
func (b *Binding) Close() {
	for _, off := range b.offs {
		off()
	}
	b.offs = nil
	b.bus.LeaveRoom(b.room)
}
