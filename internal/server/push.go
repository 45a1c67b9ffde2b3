package server

import (
	"encoding/json"
	"fmt"
	"log"

	"engage/internal/domain"
)

// creationEvent names the push event announcing a brand-new item.
func creationEvent(kind domain.ItemKind) string {
	switch kind {
	case domain.KindPoll:
		return domain.EventPollCreated
	case domain.KindQuestion:
		return domain.EventQuestionAdded
	default:
		return domain.EventNewMessage
	}
}

// mutationEvent names the push event for a vote/answer/react update.
func mutationEvent(kind domain.ItemKind, op domain.MutationOp) string {
	switch {
	case kind == domain.KindPoll:
		return domain.EventPollUpdated
	case kind == domain.KindQuestion && op == domain.OpVote:
		return domain.EventQuestionVoted
	case kind == domain.KindQuestion:
		return domain.EventQuestionUpdated
	default:
		return domain.EventMessageReaction
	}
}

func notificationCategory(kind domain.ItemKind) domain.NotificationType {
	switch kind {
	case domain.KindPoll:
		return domain.NotifyPoll
	case domain.KindQuestion:
		return domain.NotifyQA
	default:
		return domain.NotifyMessage
	}
}

// pushItem broadcasts the canonical item to the event room. Every subscriber
// receives it, the author included; the author's sync layer resolves its
// optimistic copy through the echoed client ref.
func pushItem(hub *Hub, topic *domain.Topic, event string, item *domain.FeedItem) {
	payload, err := json.Marshal(item)
	if err != nil {
		log.Printf("push: encode item %s: %v", item.ID, err)
		return
	}
	room := domain.EventRoom(topic.EventID)
	hub.Broadcast(room, domain.Envelope{Event: event, Room: room, Payload: payload}, nil)
}

// pushDelete announces the removal of an item to the event room.
func pushDelete(hub *Hub, topic *domain.Topic, itemID string) {
	payload, err := json.Marshal(map[string]string{"id": itemID})
	if err != nil {
		log.Printf("push: encode delete %s: %v", itemID, err)
		return
	}
	room := domain.EventRoom(topic.EventID)
	hub.Broadcast(room, domain.Envelope{Event: domain.EventMessageDeleted, Room: room, Payload: payload}, nil)
}

// pushNotification broadcasts the category notification for a new item so
// every attendee's notification feed picks it up.
func pushNotification(hub *Hub, topic *domain.Topic, item *domain.FeedItem) {
	cat := notificationCategory(item.Kind)

	var title, message string
	switch item.Kind {
	case domain.KindPoll:
		title = "New poll"
		message = fmt.Sprintf("A poll was opened in %s", topic.Title)
	case domain.KindQuestion:
		title = "New question"
		message = fmt.Sprintf("%s asked a question in %s", item.AuthorName, topic.Title)
	default:
		title = "New message"
		message = fmt.Sprintf("%s posted in %s", item.AuthorName, topic.Title)
	}

	payload, err := json.Marshal(map[string]string{
		"type":       string(cat),
		"title":      title,
		"message":    message,
		"source_ref": topic.ID,
	})
	if err != nil {
		log.Printf("push: encode notification for %s: %v", item.ID, err)
		return
	}
	room := domain.EventRoom(topic.EventID)
	hub.Broadcast(room, domain.Envelope{
		Event:   domain.CategoryEvent(cat),
		Room:    room,
		Payload: payload,
	}, nil)
}
