package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"engage/internal/domain"
)

// Status is the reconciler state machine: Loading -> Ready -> (Ready|Failed).
// A Failed load is retryable by calling Load again.
type Status int

const (
	Loading Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// RemoteEventType distinguishes the two effects a push event can have on the
// feed: replace-or-insert an item, or remove one.
type RemoteEventType int

const (
	Upsert RemoteEventType = iota
	Delete
)

// RemoteEvent is one decoded push event targeting this topic.
type RemoteEvent struct {
	Type   RemoteEventType
	Item   *domain.FeedItem // Upsert
	ItemID string           // Delete
}

// Outcome resolves an optimistic item: either the authoritative server item
// or the failure reason.
type Outcome struct {
	Item *domain.FeedItem
	Err  error
}

func Confirmed(item *domain.FeedItem) Outcome { return Outcome{Item: item} }
func Rejected(err error) Outcome              { return Outcome{Err: err} }

// Reconciler merges the REST snapshot, the live push stream, and local
// optimistic entries for one topic into a single ordered, deduplicated view.
// Items are ordered by (CreatedAt, ID); out-of-order delivery self-corrects.
type Reconciler struct {
	api     domain.SnapshotAPI
	topicID string
	kind    domain.ItemKind

	mu      sync.Mutex
	status  Status
	loadErr error
	items   []domain.FeedItem
	index   map[string]int
	atStart bool
	changed chan struct{}
}

func New(api domain.SnapshotAPI, topicID string, kind domain.ItemKind) *Reconciler {
	return &Reconciler{
		api:     api,
		topicID: topicID,
		kind:    kind,
		status:  Loading,
		index:   make(map[string]int),
		changed: make(chan struct{}, 1),
	}
}

func (r *Reconciler) TopicID() string      { return r.topicID }
func (r *Reconciler) Kind() domain.ItemKind { return r.kind }

// Status returns the current state and, when Failed, the load error.
func (r *Reconciler) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.loadErr
}

// Items returns a copy of the current ordered view.
func (r *Reconciler) Items() []domain.FeedItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.FeedItem, len(r.items))
	copy(out, r.items)
	return out
}

// Get returns the item with the given id, if present.
func (r *Reconciler) Get(id string) (domain.FeedItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return domain.FeedItem{}, false
	}
	return r.items[i], true
}

// Changed returns a coalesced notification channel: one token is pending
// whenever the view has changed since the last receive.
func (r *Reconciler) Changed() <-chan struct{} {
	return r.changed
}

// Load fetches the first snapshot page and transitions to Ready. Pending
// optimistic entries survive a reload.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	r.status = Loading
	r.loadErr = nil
	r.mu.Unlock()

	page, err := r.api.TopicPage(ctx, r.topicID, 1)
	if err != nil {
		r.mu.Lock()
		r.status = Failed
		r.loadErr = err
		r.mu.Unlock()
		r.notify()
		return fmt.Errorf("load topic %s: %w", r.topicID, err)
	}

	r.mu.Lock()
	var pending []domain.FeedItem
	for _, it := range r.items {
		if it.Pending {
			pending = append(pending, it)
		}
	}
	r.items = r.items[:0]
	r.index = make(map[string]int)
	for i := range page.Items {
		r.insertLocked(page.Items[i])
	}
	for i := range pending {
		if _, dup := r.index[pending[i].ID]; !dup {
			r.insertLocked(pending[i])
		}
	}
	r.atStart = page.TotalPages <= 1
	r.status = Ready
	r.mu.Unlock()
	r.notify()
	return nil
}

// LoadOlder prepends the window of items immediately preceding the oldest
// confirmed item. The cursor anchors on that item, so writes landing since
// the last fetch cannot shift the window or skip history; already rendered
// rows keep their identity and relative position.
func (r *Reconciler) LoadOlder(ctx context.Context) error {
	r.mu.Lock()
	if r.status != Ready {
		r.mu.Unlock()
		return fmt.Errorf("%w: feed not ready", domain.ErrInvalidInput)
	}
	if r.atStart {
		r.mu.Unlock()
		return nil
	}
	var before string
	for i := range r.items {
		if !r.items[i].Pending {
			before = r.items[i].ID
			break
		}
	}
	r.mu.Unlock()
	if before == "" {
		// Only unconfirmed optimistic entries so far; the server knows no
		// anchor to page back from.
		return nil
	}

	items, err := r.api.ItemsBefore(ctx, r.topicID, before)
	if err != nil {
		return fmt.Errorf("load older than %s: %w", before, err)
	}

	r.mu.Lock()
	if len(items) == 0 {
		r.atStart = true
	}
	for i := range items {
		if _, dup := r.index[items[i].ID]; dup {
			continue
		}
		r.insertLocked(items[i])
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// ApplyRemote applies one push event. Upserts are idempotent and
// version-aware: a replay of an already-applied event is a no-op and a stale
// version never regresses the stored item.
func (r *Reconciler) ApplyRemote(ev RemoteEvent) {
	switch ev.Type {
	case Upsert:
		if ev.Item == nil {
			return
		}
		r.mu.Lock()
		r.upsertLocked(*ev.Item)
		r.mu.Unlock()
	case Delete:
		r.mu.Lock()
		r.removeLocked(ev.ItemID)
		r.mu.Unlock()
	default:
		return
	}
	r.notify()
}

// ApplyOptimistic inserts a not-yet-confirmed local entry.
func (r *Reconciler) ApplyOptimistic(item domain.FeedItem) {
	item.Pending = true
	r.mu.Lock()
	r.insertLocked(item)
	r.mu.Unlock()
	r.notify()
}

// ResolveOptimistic swaps the temp entry for the confirmed server item, or
// removes it on failure. The failure reason travels back through the Outcome
// to the caller that initiated the action.
func (r *Reconciler) ResolveOptimistic(tempID string, out Outcome) {
	r.mu.Lock()
	r.removeLocked(tempID)
	if out.Err == nil && out.Item != nil {
		r.upsertLocked(*out.Item)
	}
	r.mu.Unlock()
	r.notify()
}

// MutateLocal applies a local, optimistic mutation to an existing item and
// returns the undo that restores the prior state. Undo is a no-op when an
// authoritative update (higher version) has arrived in the meantime.
func (r *Reconciler) MutateLocal(id string, mutate func(*domain.FeedItem) error) (undo func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	prior := r.items[i]
	next := prior
	next.Payload = append([]byte(nil), prior.Payload...)
	if err := mutate(&next); err != nil {
		return nil, err
	}
	r.items[i] = next
	r.notify()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		j, ok := r.index[id]
		if !ok || r.items[j].Version != prior.Version {
			return
		}
		r.items[j] = prior
		r.notify()
	}, nil
}

// upsertLocked inserts or replaces by id without a full re-sort.
func (r *Reconciler) upsertLocked(item domain.FeedItem) {
	if i, ok := r.index[item.ID]; ok {
		cur := r.items[i]
		if cur.Version > item.Version {
			return // stale event, never regress
		}
		if cur.CreatedAt.Equal(item.CreatedAt) {
			r.items[i] = item
			return
		}
		// Timestamp moved: the position may change, re-place the item.
		r.removeAtLocked(i)
	}
	r.insertLocked(item)
}

// insertLocked places the item at its canonical (CreatedAt, ID) position.
func (r *Reconciler) insertLocked(item domain.FeedItem) {
	pos := sort.Search(len(r.items), func(i int) bool {
		return item.Before(&r.items[i])
	})
	r.items = append(r.items, domain.FeedItem{})
	copy(r.items[pos+1:], r.items[pos:])
	r.items[pos] = item
	for id, i := range r.index {
		if i >= pos {
			r.index[id] = i + 1
		}
	}
	r.index[item.ID] = pos
}

func (r *Reconciler) removeLocked(id string) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.removeAtLocked(i)
}

func (r *Reconciler) removeAtLocked(pos int) {
	delete(r.index, r.items[pos].ID)
	r.items = append(r.items[:pos], r.items[pos+1:]...)
	for id, i := range r.index {
		if i > pos {
			r.index[id] = i - 1
		}
	}
}

func (r *Reconciler) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}
