package domain

// Canonical push event names recognized by the synchronization layer.
const (
	EventNewMessage      = "new-message"
	EventMessageEdited   = "message-edited"
	EventMessageDeleted  = "message-deleted"
	EventMessageReaction = "message-reaction"

	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"

	EventPollCreated = "poll-created"
	EventPollUpdated = "poll-updated"
	EventPollEnded   = "poll-ended"

	EventQuestionAdded   = "question-added"
	EventQuestionUpdated = "question-updated"
	EventQuestionVoted   = "question-voted"

	// EventNotification is the generic cross-feature notification path. It is
	// always recorded by the notification store, independent of settings.
	EventNotification = "notification"

	EventMessageNotification    = "message-notification"
	EventPollNotification       = "poll-notification"
	EventQANotification         = "qa-notification"
	EventForumNotification      = "forum-notification"
	EventNetworkingNotification = "networking-notification"
	EventEventNotification      = "event-notification"

	// Control frames between client and push endpoint.
	EventJoin  = "join"
	EventLeave = "leave"
)

// CategoryEvent maps a notification type to its category-specific push event.
func CategoryEvent(t NotificationType) string {
	switch t {
	case NotifyMessage:
		return EventMessageNotification
	case NotifyPoll:
		return EventPollNotification
	case NotifyQA:
		return EventQANotification
	case NotifyForum:
		return EventForumNotification
	case NotifyNetworking:
		return EventNetworkingNotification
	case NotifyEvent:
		return EventEventNotification
	}
	return EventNotification
}
