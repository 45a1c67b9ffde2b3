package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engage/internal/domain"
	"engage/internal/server/store"
)

type TopicRepo struct {
	db *sql.DB
}

func NewTopicRepo(db *sql.DB) *TopicRepo {
	return &TopicRepo{db: db}
}

var _ store.TopicRepository = (*TopicRepo)(nil)

func (r *TopicRepo) CreateTopic(ctx context.Context, t *domain.Topic) error {
	query := `
		INSERT INTO topics (id, event_id, kind, title, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.EventID, t.Kind, t.Title); err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

func (r *TopicRepo) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	query := `SELECT id, event_id, kind, title, created_at FROM topics WHERE id = $1`
	t := &domain.Topic{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.EventID, &t.Kind, &t.Title, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

func (r *TopicRepo) ListTopics(ctx context.Context, eventID string) ([]*domain.Topic, error) {
	query := `SELECT id, event_id, kind, title, created_at FROM topics WHERE event_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var res []*domain.Topic
	for rows.Next() {
		t := &domain.Topic{}
		if err := rows.Scan(&t.ID, &t.EventID, &t.Kind, &t.Title, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *TopicRepo) InsertItem(ctx context.Context, item *domain.FeedItem) error {
	query := `
		INSERT INTO feed_items (id, topic_id, kind, author_id, author_name, created_at, version, payload, client_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.TopicID, item.Kind, item.AuthorID, item.AuthorName,
		item.CreatedAt, item.Version, string(item.Payload), item.ClientRef,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *TopicRepo) UpdateItem(ctx context.Context, item *domain.FeedItem) error {
	query := `UPDATE feed_items SET version = $1, payload = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, item.Version, string(item.Payload), item.ID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TopicRepo) GetItem(ctx context.Context, id string) (*domain.FeedItem, error) {
	query := `
		SELECT id, topic_id, kind, author_id, author_name, created_at, version, payload, client_ref
		FROM feed_items WHERE id = $1
	`
	item := &domain.FeedItem{}
	var payload string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.TopicID, &item.Kind, &item.AuthorID, &item.AuthorName,
		&item.CreatedAt, &item.Version, &payload, &item.ClientRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	item.Payload = []byte(payload)
	return item, nil
}

func (r *TopicRepo) DeleteItem(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM feed_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// ItemsBefore returns up to limit items strictly preceding the
// (before, beforeID) cursor, ascending (created_at, id).
func (r *TopicRepo) ItemsBefore(ctx context.Context, topicID string, before time.Time, beforeID string, limit int) ([]domain.FeedItem, error) {
	if limit < 1 {
		return nil, domain.ErrInvalidInput
	}
	query := `
		SELECT id, topic_id, kind, author_id, author_name, created_at, version, payload, client_ref
		FROM feed_items
		WHERE topic_id = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, topicID, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("items before: %w", err)
	}
	defer rows.Close()

	var items []domain.FeedItem
	for rows.Next() {
		var item domain.FeedItem
		var payload string
		if err := rows.Scan(
			&item.ID, &item.TopicID, &item.Kind, &item.AuthorID, &item.AuthorName,
			&item.CreatedAt, &item.Version, &payload, &item.ClientRef,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Payload = []byte(payload)
		items = append(items, item)
	}
	// The query walks newest first; flip to the feed's ascending order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, rows.Err()
}

// PageItems mirrors the sqlite implementation: page 1 is the newest slice,
// ascending (created_at, id) within each page.
func (r *TopicRepo) PageItems(ctx context.Context, topicID string, page, pageSize int) ([]domain.FeedItem, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, domain.ErrInvalidInput
	}

	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items WHERE topic_id = $1`, topicID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}
	totalPages := (count + pageSize - 1) / pageSize
	if count == 0 {
		return nil, 0, nil
	}

	offset := count - page*pageSize
	limit := pageSize
	if offset < 0 {
		limit += offset
		offset = 0
	}
	if limit <= 0 {
		return nil, totalPages, nil
	}

	query := `
		SELECT id, topic_id, kind, author_id, author_name, created_at, version, payload, client_ref
		FROM feed_items
		WHERE topic_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, topicID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("page items: %w", err)
	}
	defer rows.Close()

	var items []domain.FeedItem
	for rows.Next() {
		var item domain.FeedItem
		var payload string
		if err := rows.Scan(
			&item.ID, &item.TopicID, &item.Kind, &item.AuthorID, &item.AuthorName,
			&item.CreatedAt, &item.Version, &payload, &item.ClientRef,
		); err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		item.Payload = []byte(payload)
		items = append(items, item)
	}
	return items, totalPages, rows.Err()
}
