package domain

import "context"

// Page is one snapshot page of a topic feed, oldest first.
type Page struct {
	Items      []FeedItem
	Page       int
	TotalPages int
}

// CreateItemInput is the write request for a new feed item.
type CreateItemInput struct {
	Kind      ItemKind `json:"kind"`
	Payload   any      `json:"payload"`
	ClientRef string   `json:"client_ref"`
}

// MutationOp names the per-item mutation endpoints.
type MutationOp string

const (
	OpVote   MutationOp = "vote"
	OpAnswer MutationOp = "answer"
	OpReact  MutationOp = "react"
)

// MutateItemInput carries the argument of a per-item mutation: the option
// label for a vote, the answer text, or the reaction emoji.
type MutateItemInput struct {
	Value     string `json:"value"`
	ClientRef string `json:"client_ref"`
}

// SnapshotAPI is the REST collaborator contract the reconcilers and the
// optimistic tracker depend on. The backing store behind it is out of scope.
type SnapshotAPI interface {
	TopicPage(ctx context.Context, topicID string, page int) (*Page, error)
	// ItemsBefore returns the window of items strictly older than the
	// referenced item, ascending. An empty result means the start of the
	// feed was reached.
	ItemsBefore(ctx context.Context, topicID, beforeID string) ([]FeedItem, error)
	CreateItem(ctx context.Context, topicID string, in CreateItemInput) (*FeedItem, error)
	MutateItem(ctx context.Context, itemID string, op MutationOp, in MutateItemInput) (*FeedItem, error)
}

// KeyValue is the local persistence collaborator. Used only for the
// notification snapshot and settings; corrupt values are treated as absent.
type KeyValue interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// TokenSource supplies the credentials that scope rooms and label optimistic
// items. Authentication itself is out of scope.
type TokenSource interface {
	Token() string
	UserID() string
	DisplayName() string
}

// StaticCredentials is the trivial TokenSource for a logged-in user.
type StaticCredentials struct {
	AuthToken string
	ID        string
	Name      string
}

func (c StaticCredentials) Token() string       { return c.AuthToken }
func (c StaticCredentials) UserID() string      { return c.ID }
func (c StaticCredentials) DisplayName() string { return c.Name }

var _ TokenSource = StaticCredentials{}
