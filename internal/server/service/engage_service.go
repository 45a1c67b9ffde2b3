package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engage/internal/domain"
	"engage/internal/server/store"
)

// EngageService owns topic feeds: snapshot pages, item creation, and the
// vote/answer/react mutations. Every successful write bumps the item version
// so replayed or reordered broadcasts can never regress a client's view.
type EngageService struct {
	topics   store.TopicRepository
	PageSize int
}

func NewEngageService(topics store.TopicRepository, pageSize int) *EngageService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &EngageService{topics: topics, PageSize: pageSize}
}

// Page returns one snapshot page of a topic, oldest first within the page.
func (s *EngageService) Page(ctx context.Context, topicID string, page int) ([]domain.FeedItem, int, error) {
	if page < 1 {
		page = 1
	}
	if _, err := s.topics.GetTopic(ctx, topicID); err != nil {
		return nil, 0, err
	}
	return s.topics.PageItems(ctx, topicID, page, s.PageSize)
}

// Older returns the window of items immediately preceding beforeID. The
// cursor anchors on the stored item, so concurrent writes cannot shift the
// window the way numbered pages do.
func (s *EngageService) Older(ctx context.Context, topicID, beforeID string) ([]domain.FeedItem, error) {
	anchor, err := s.topics.GetItem(ctx, beforeID)
	if err != nil {
		return nil, err
	}
	if anchor.TopicID != topicID {
		return nil, fmt.Errorf("%w: item %s is not in topic %s", domain.ErrInvalidInput, beforeID, topicID)
	}
	return s.topics.ItemsBefore(ctx, topicID, anchor.CreatedAt, anchor.ID, s.PageSize)
}

// CreateTopic registers a new feed scope inside an event.
func (s *EngageService) CreateTopic(ctx context.Context, eventID string, kind domain.ItemKind, title string) (*domain.Topic, error) {
	switch kind {
	case domain.KindMessage, domain.KindPoll, domain.KindQuestion:
	default:
		return nil, fmt.Errorf("%w: unknown topic kind %q", domain.ErrInvalidInput, kind)
	}
	t := &domain.Topic{
		ID:      uuid.NewString(),
		EventID: eventID,
		Kind:    kind,
		Title:   title,
	}
	if err := s.topics.CreateTopic(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *EngageService) ListTopics(ctx context.Context, eventID string) ([]*domain.Topic, error) {
	return s.topics.ListTopics(ctx, eventID)
}

type Author struct {
	ID   string
	Name string
}

// CreateItem validates the payload against the topic kind, assigns the
// server id, persists, and returns the canonical item together with its
// topic so callers can address the broadcast room.
func (s *EngageService) CreateItem(ctx context.Context, topicID string, author Author, in domain.CreateItemInput) (*domain.FeedItem, *domain.Topic, error) {
	topic, err := s.topics.GetTopic(ctx, topicID)
	if err != nil {
		return nil, nil, err
	}
	if in.Kind != topic.Kind {
		return nil, nil, fmt.Errorf("%w: topic %s holds %s items", domain.ErrInvalidInput, topicID, topic.Kind)
	}

	raw, err := normalizePayload(in.Kind, in.Payload)
	if err != nil {
		return nil, nil, err
	}

	item := &domain.FeedItem{
		ID:         uuid.NewString(),
		TopicID:    topicID,
		Kind:       in.Kind,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		CreatedAt:  time.Now().UTC(),
		Version:    1,
		Payload:    raw,
		ClientRef:  in.ClientRef,
	}
	if err := s.topics.InsertItem(ctx, item); err != nil {
		return nil, nil, err
	}
	return item, topic, nil
}

// Mutate applies a vote/answer/react operation, bumps the version, and
// echoes the mutating client's ref so its optimistic state can resolve.
func (s *EngageService) Mutate(ctx context.Context, itemID string, op domain.MutationOp, in domain.MutateItemInput) (*domain.FeedItem, *domain.Topic, error) {
	item, err := s.topics.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	topic, err := s.topics.GetTopic(ctx, item.TopicID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case op == domain.OpVote && item.Kind == domain.KindPoll:
		var poll domain.PollPayload
		if err := domain.DecodePayload(item.Payload, &poll); err != nil {
			return nil, nil, err
		}
		if err := poll.Vote(in.Value); err != nil {
			return nil, nil, err
		}
		item.Payload, err = domain.EncodePayload(poll)

	case op == domain.OpVote && item.Kind == domain.KindQuestion:
		var q domain.QuestionPayload
		if err := domain.DecodePayload(item.Payload, &q); err != nil {
			return nil, nil, err
		}
		q.Upvotes++
		item.Payload, err = domain.EncodePayload(q)

	case op == domain.OpAnswer && item.Kind == domain.KindQuestion:
		if in.Value == "" {
			return nil, nil, fmt.Errorf("%w: empty answer", domain.ErrInvalidInput)
		}
		var q domain.QuestionPayload
		if err := domain.DecodePayload(item.Payload, &q); err != nil {
			return nil, nil, err
		}
		q.Answer = in.Value
		q.Answered = true
		item.Payload, err = domain.EncodePayload(q)

	case op == domain.OpReact && item.Kind == domain.KindMessage:
		if in.Value == "" {
			return nil, nil, fmt.Errorf("%w: empty reaction", domain.ErrInvalidInput)
		}
		var msg domain.MessagePayload
		if err := domain.DecodePayload(item.Payload, &msg); err != nil {
			return nil, nil, err
		}
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]int)
		}
		msg.Reactions[in.Value]++
		item.Payload, err = domain.EncodePayload(msg)

	default:
		return nil, nil, fmt.Errorf("%w: %s not supported on %s items", domain.ErrInvalidInput, op, item.Kind)
	}
	if err != nil {
		return nil, nil, err
	}

	item.Version++
	item.ClientRef = in.ClientRef
	if err := s.topics.UpdateItem(ctx, item); err != nil {
		return nil, nil, err
	}
	return item, topic, nil
}

// EditItem replaces a message's text. Only the author may edit, and only
// message items are editable.
func (s *EngageService) EditItem(ctx context.Context, itemID string, author Author, text, clientRef string) (*domain.FeedItem, *domain.Topic, error) {
	item, err := s.topics.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.Kind != domain.KindMessage {
		return nil, nil, fmt.Errorf("%w: %s is not a message", domain.ErrInvalidInput, itemID)
	}
	if item.AuthorID != author.ID {
		return nil, nil, fmt.Errorf("%w: only the author may edit", domain.ErrAuth)
	}
	if text == "" {
		return nil, nil, fmt.Errorf("%w: message text cannot be empty", domain.ErrInvalidInput)
	}
	topic, err := s.topics.GetTopic(ctx, item.TopicID)
	if err != nil {
		return nil, nil, err
	}

	var msg domain.MessagePayload
	if err := domain.DecodePayload(item.Payload, &msg); err != nil {
		return nil, nil, err
	}
	msg.Text = text
	msg.Edited = true
	if item.Payload, err = domain.EncodePayload(msg); err != nil {
		return nil, nil, err
	}
	item.Version++
	item.ClientRef = clientRef
	if err := s.topics.UpdateItem(ctx, item); err != nil {
		return nil, nil, err
	}
	return item, topic, nil
}

// DeleteItem removes a message. Only the author may delete.
func (s *EngageService) DeleteItem(ctx context.Context, itemID string, author Author) (*domain.Topic, error) {
	item, err := s.topics.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Kind != domain.KindMessage {
		return nil, fmt.Errorf("%w: %s is not a message", domain.ErrInvalidInput, itemID)
	}
	if item.AuthorID != author.ID {
		return nil, fmt.Errorf("%w: only the author may delete", domain.ErrAuth)
	}
	topic, err := s.topics.GetTopic(ctx, item.TopicID)
	if err != nil {
		return nil, err
	}
	if err := s.topics.DeleteItem(ctx, itemID); err != nil {
		return nil, err
	}
	return topic, nil
}

// EndPoll closes a poll so further votes are rejected.
func (s *EngageService) EndPoll(ctx context.Context, itemID string) (*domain.FeedItem, *domain.Topic, error) {
	item, err := s.topics.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.Kind != domain.KindPoll {
		return nil, nil, fmt.Errorf("%w: %s is not a poll", domain.ErrInvalidInput, itemID)
	}
	topic, err := s.topics.GetTopic(ctx, item.TopicID)
	if err != nil {
		return nil, nil, err
	}

	var poll domain.PollPayload
	if err := domain.DecodePayload(item.Payload, &poll); err != nil {
		return nil, nil, err
	}
	poll.Status = domain.PollEnded
	if item.Payload, err = domain.EncodePayload(poll); err != nil {
		return nil, nil, err
	}
	item.Version++
	if err := s.topics.UpdateItem(ctx, item); err != nil {
		return nil, nil, err
	}
	return item, topic, nil
}

// normalizePayload round-trips the inbound payload through its typed form,
// rejecting shapes the topic kind cannot hold.
func normalizePayload(kind domain.ItemKind, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidInput, err)
	}
	switch kind {
	case domain.KindMessage:
		var msg domain.MessagePayload
		if err := domain.DecodePayload(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, fmt.Errorf("%w: message text cannot be empty", domain.ErrInvalidInput)
		}
		return domain.EncodePayload(msg)
	case domain.KindPoll:
		var poll domain.PollPayload
		if err := domain.DecodePayload(raw, &poll); err != nil {
			return nil, err
		}
		if poll.Question == "" || len(poll.Options) < 2 {
			return nil, fmt.Errorf("%w: a poll needs a question and at least two options", domain.ErrInvalidInput)
		}
		if poll.Status == "" {
			poll.Status = domain.PollOpen
		}
		for i := range poll.Options {
			poll.Options[i].Votes = 0
		}
		return domain.EncodePayload(poll)
	case domain.KindQuestion:
		var q domain.QuestionPayload
		if err := domain.DecodePayload(raw, &q); err != nil {
			return nil, err
		}
		if q.Text == "" {
			return nil, fmt.Errorf("%w: question text cannot be empty", domain.ErrInvalidInput)
		}
		q.Upvotes = 0
		q.Answered = false
		q.Answer = ""
		return domain.EncodePayload(q)
	}
	return nil, fmt.Errorf("%w: unknown item kind %q", domain.ErrInvalidInput, kind)
}
