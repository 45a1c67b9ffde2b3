package store

import (
	"context"
	"time"

	"engage/internal/domain"
)

// User is a backend account. The sync layer never sees this type; it only
// receives the token and user id the auth endpoints hand out.
type User struct {
	ID             string
	Username       string
	HashedPassword string
	CreatedAt      time.Time
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// TopicRepository defines persistence for topics and their feed items.
// Pages are numbered from the newest: page 1 holds the latest items, each
// page sorted ascending by (created_at, id).
type TopicRepository interface {
	CreateTopic(ctx context.Context, t *domain.Topic) error
	GetTopic(ctx context.Context, id string) (*domain.Topic, error)
	ListTopics(ctx context.Context, eventID string) ([]*domain.Topic, error)

	InsertItem(ctx context.Context, item *domain.FeedItem) error
	UpdateItem(ctx context.Context, item *domain.FeedItem) error
	GetItem(ctx context.Context, id string) (*domain.FeedItem, error)
	DeleteItem(ctx context.Context, id string) error
	PageItems(ctx context.Context, topicID string, page, pageSize int) ([]domain.FeedItem, int, error)
	ItemsBefore(ctx context.Context, topicID string, before time.Time, beforeID string, limit int) ([]domain.FeedItem, error)
}
