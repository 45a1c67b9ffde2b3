package optimistic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"engage/internal/domain"
	"engage/internal/realtime/feed"
)

// Options tunes the tracker.
type Options struct {
	// Timeout bounds how long an action may stay pending before it is failed
	// with domain.ErrTimeout instead of lingering forever.
	Timeout time.Duration
	// MatchWindow is the timestamp tolerance of the heuristic fallback used
	// when a backend does not echo the client ref.
	MatchWindow time.Duration
	Now         func() time.Time
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type pendingAction struct {
	tempID      string
	clientRef   string
	topicID     string
	authorID    string
	contentHash string
	startedAt   time.Time
	insert      bool // true: optimistic feed entry exists under tempID
	undo        func()
	timer       *time.Timer
	result      chan error
	done        bool
}

// Tracker wraps user-initiated writes so the feed reflects them immediately
// and reconciles, or rolls back, once the authoritative answer arrives. Each
// action owns exactly one in-flight entry. Confirmation comes from whichever
// arrives first: the REST response carrying the canonical item, or the push
// echo matched by client ref (heuristically by content and time window when
// the ref is not echoed).
type Tracker struct {
	rec   *feed.Reconciler
	api   domain.SnapshotAPI
	creds domain.TokenSource
	opts  Options

	mu      sync.Mutex
	pending map[string]*pendingAction // tempID -> action
	byRef   map[string]string         // clientRef -> tempID
}

func New(rec *feed.Reconciler, api domain.SnapshotAPI, creds domain.TokenSource, opts Options) *Tracker {
	opts.withDefaults()
	return &Tracker{
		rec:     rec,
		api:     api,
		creds:   creds,
		opts:    opts,
		pending: make(map[string]*pendingAction),
		byRef:   make(map[string]string),
	}
}

// SendMessage inserts the optimistic message and issues the write. The
// returned channel delivers exactly one resolution: nil on confirmation or
// the failure reason.
func (t *Tracker) SendMessage(ctx context.Context, text string) (string, <-chan error) {
	payload := domain.MessagePayload{Text: text}
	return t.createItem(ctx, domain.KindMessage, payload, text)
}

// SubmitQuestion inserts the optimistic question and issues the write.
func (t *Tracker) SubmitQuestion(ctx context.Context, text string) (string, <-chan error) {
	payload := domain.QuestionPayload{Text: text}
	return t.createItem(ctx, domain.KindQuestion, payload, text)
}

func (t *Tracker) createItem(ctx context.Context, kind domain.ItemKind, payload any, content string) (string, <-chan error) {
	result := make(chan error, 1)

	raw, err := domain.EncodePayload(payload)
	if err != nil {
		result <- err
		return "", result
	}

	tempID := "tmp-" + ulid.Make().String()
	clientRef := uuid.NewString()
	now := t.opts.Now()

	t.rec.ApplyOptimistic(domain.FeedItem{
		ID:         tempID,
		TopicID:    t.rec.TopicID(),
		Kind:       kind,
		AuthorID:   t.creds.UserID(),
		AuthorName: t.creds.DisplayName(),
		CreatedAt:  now,
		Payload:    raw,
		ClientRef:  clientRef,
	})

	t.track(&pendingAction{
		tempID:      tempID,
		clientRef:   clientRef,
		topicID:     t.rec.TopicID(),
		authorID:    t.creds.UserID(),
		contentHash: hashContent(content),
		startedAt:   now,
		insert:      true,
		result:      result,
	})

	go func() {
		item, err := t.api.CreateItem(ctx, t.rec.TopicID(), domain.CreateItemInput{
			Kind:      kind,
			Payload:   payload,
			ClientRef: clientRef,
		})
		if err != nil {
			t.fail(tempID, err)
			return
		}
		if item != nil {
			t.confirm(tempID, item)
		}
		// A nil item without error defers resolution to the push echo.
	}()

	return tempID, result
}

// CastVote bumps the option tally optimistically and issues the mutation.
// On failure the tally reverts to exactly its pre-vote value.
func (t *Tracker) CastVote(ctx context.Context, pollID, option string) <-chan error {
	return t.mutateItem(ctx, pollID, domain.OpVote, option, func(item *domain.FeedItem) error {
		var poll domain.PollPayload
		if err := domain.DecodePayload(item.Payload, &poll); err != nil {
			return err
		}
		if err := poll.Vote(option); err != nil {
			return err
		}
		raw, err := domain.EncodePayload(poll)
		if err != nil {
			return err
		}
		item.Payload = raw
		return nil
	})
}

// AnswerQuestion marks the question answered optimistically and issues the
// mutation.
func (t *Tracker) AnswerQuestion(ctx context.Context, questionID, answer string) <-chan error {
	return t.mutateItem(ctx, questionID, domain.OpAnswer, answer, func(item *domain.FeedItem) error {
		var q domain.QuestionPayload
		if err := domain.DecodePayload(item.Payload, &q); err != nil {
			return err
		}
		q.Answer = answer
		q.Answered = true
		raw, err := domain.EncodePayload(q)
		if err != nil {
			return err
		}
		item.Payload = raw
		return nil
	})
}

// React bumps a reaction counter optimistically and issues the mutation.
func (t *Tracker) React(ctx context.Context, messageID, emoji string) <-chan error {
	return t.mutateItem(ctx, messageID, domain.OpReact, emoji, func(item *domain.FeedItem) error {
		var msg domain.MessagePayload
		if err := domain.DecodePayload(item.Payload, &msg); err != nil {
			return err
		}
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]int)
		}
		msg.Reactions[emoji]++
		raw, err := domain.EncodePayload(msg)
		if err != nil {
			return err
		}
		item.Payload = raw
		return nil
	})
}

func (t *Tracker) mutateItem(ctx context.Context, itemID string, op domain.MutationOp, value string, mutate func(*domain.FeedItem) error) <-chan error {
	result := make(chan error, 1)

	undo, err := t.rec.MutateLocal(itemID, mutate)
	if err != nil {
		result <- err
		return result
	}

	tempID := "mut-" + ulid.Make().String()
	clientRef := uuid.NewString()

	t.track(&pendingAction{
		tempID:      tempID,
		clientRef:   clientRef,
		topicID:     t.rec.TopicID(),
		authorID:    t.creds.UserID(),
		contentHash: hashContent(string(op) + ":" + itemID + ":" + value),
		startedAt:   t.opts.Now(),
		undo:        undo,
		result:      result,
	})

	go func() {
		item, err := t.api.MutateItem(ctx, itemID, op, domain.MutateItemInput{
			Value:     value,
			ClientRef: clientRef,
		})
		if err != nil {
			t.fail(tempID, err)
			return
		}
		if item != nil {
			t.confirm(tempID, item)
		}
	}()

	return result
}

// HandleRemote interposes between the room binding and the reconciler: an
// upsert that echoes one of our in-flight writes resolves it; everything
// else passes through untouched.
func (t *Tracker) HandleRemote(ev feed.RemoteEvent) {
	if ev.Type != feed.Upsert || ev.Item == nil {
		t.rec.ApplyRemote(ev)
		return
	}
	if tempID, ok := t.match(ev.Item); ok {
		t.confirm(tempID, ev.Item)
		return
	}
	t.rec.ApplyRemote(ev)
}

func (t *Tracker) match(item *domain.FeedItem) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item.ClientRef != "" {
		if tempID, ok := t.byRef[item.ClientRef]; ok {
			return tempID, true
		}
		return "", false
	}

	// Heuristic fallback for backends that do not echo the client ref. Known
	// to be unsafe against duplicate identical content, which is exactly why
	// the ref exists.
	for tempID, pa := range t.pending {
		if !pa.insert || pa.done {
			continue
		}
		if pa.authorID != item.AuthorID || pa.topicID != item.TopicID {
			continue
		}
		if pa.contentHash != hashItemContent(item) {
			continue
		}
		delta := item.CreatedAt.Sub(pa.startedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= t.opts.MatchWindow {
			return tempID, true
		}
	}
	return "", false
}

func (t *Tracker) track(pa *pendingAction) {
	t.mu.Lock()
	t.pending[pa.tempID] = pa
	t.byRef[pa.clientRef] = pa.tempID
	t.mu.Unlock()

	pa.timer = time.AfterFunc(t.opts.Timeout, func() {
		t.fail(pa.tempID, domain.ErrTimeout)
	})
}

func (t *Tracker) take(tempID string) *pendingAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	pa, ok := t.pending[tempID]
	if !ok || pa.done {
		return nil
	}
	pa.done = true
	delete(t.pending, tempID)
	delete(t.byRef, pa.clientRef)
	if pa.timer != nil {
		pa.timer.Stop()
	}
	return pa
}

func (t *Tracker) confirm(tempID string, item *domain.FeedItem) {
	pa := t.take(tempID)
	if pa == nil {
		// Already resolved (REST and echo both landed): dedup via upsert.
		t.rec.ApplyRemote(feed.RemoteEvent{Type: feed.Upsert, Item: item})
		return
	}
	if pa.insert {
		t.rec.ResolveOptimistic(tempID, feed.Confirmed(item))
	} else {
		t.rec.ApplyRemote(feed.RemoteEvent{Type: feed.Upsert, Item: item})
	}
	pa.result <- nil
}

func (t *Tracker) fail(tempID string, cause error) {
	pa := t.take(tempID)
	if pa == nil {
		return
	}
	if !errors.Is(cause, domain.ErrWrite) && !errors.Is(cause, domain.ErrTimeout) &&
		!errors.Is(cause, domain.ErrAuth) && !errors.Is(cause, domain.ErrTransport) {
		cause = fmt.Errorf("%w: %v", domain.ErrWrite, cause)
	}
	if pa.insert {
		t.rec.ResolveOptimistic(tempID, feed.Rejected(cause))
	}
	if pa.undo != nil {
		pa.undo()
	}
	pa.result <- cause
}

// PendingCount reports how many actions are still awaiting resolution.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func hashItemContent(item *domain.FeedItem) string {
	switch item.Kind {
	case domain.KindMessage:
		var msg domain.MessagePayload
		if err := domain.DecodePayload(item.Payload, &msg); err == nil {
			return hashContent(msg.Text)
		}
	case domain.KindQuestion:
		var q domain.QuestionPayload
		if err := domain.DecodePayload(item.Payload, &q); err == nil {
			return hashContent(q.Text)
		}
	}
	return ""
}
