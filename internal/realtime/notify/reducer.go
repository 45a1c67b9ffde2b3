package notify

import "engage/internal/domain"

// State is the notification read model: newest first, bounded by the
// retained cap, with UnreadCount always equal to the unread entries in List.
type State struct {
	List        []domain.Notification
	UnreadCount int
}

// ActionType enumerates the reducer actions.
type ActionType string

const (
	ActionAdd         ActionType = "ADD"
	ActionMarkRead    ActionType = "MARK_READ"
	ActionMarkAllRead ActionType = "MARK_ALL_READ"
	ActionRemove      ActionType = "REMOVE"
	ActionClearAll    ActionType = "CLEAR_ALL"
	ActionSetSnapshot ActionType = "SET_SNAPSHOT"
)

// Action is one state transition input. The dispatch wrapper stamps ids and
// timestamps before dispatching; the reducer itself performs no I/O.
type Action struct {
	Type         ActionType
	Notification domain.Notification   // ADD
	ID           string                // MARK_READ, REMOVE
	Snapshot     []domain.Notification // SET_SNAPSHOT
}

// Reduce computes the next state purely from the previous state and the
// action. Eviction drops oldest entries first; removing an unread entry, by
// eviction or otherwise, decrements the counter atomically with the removal
// because the counter is recomputed from the resulting list.
func Reduce(s State, a Action, cap int) State {
	switch a.Type {
	case ActionAdd:
		n := a.Notification
		n.IsRead = false
		list := make([]domain.Notification, 0, len(s.List)+1)
		list = append(list, n)
		list = append(list, s.List...)
		if cap > 0 && len(list) > cap {
			list = list[:cap]
		}
		return withCount(list)

	case ActionMarkRead:
		list := cloneList(s.List)
		for i := range list {
			if list[i].ID == a.ID {
				list[i].IsRead = true
			}
		}
		return withCount(list)

	case ActionMarkAllRead:
		list := cloneList(s.List)
		for i := range list {
			list[i].IsRead = true
		}
		return withCount(list)

	case ActionRemove:
		list := make([]domain.Notification, 0, len(s.List))
		for _, n := range s.List {
			if n.ID != a.ID {
				list = append(list, n)
			}
		}
		return withCount(list)

	case ActionClearAll:
		return State{}

	case ActionSetSnapshot:
		list := cloneList(a.Snapshot)
		if cap > 0 && len(list) > cap {
			list = list[:cap]
		}
		return withCount(list)
	}
	return s
}

func cloneList(in []domain.Notification) []domain.Notification {
	out := make([]domain.Notification, len(in))
	copy(out, in)
	return out
}

func withCount(list []domain.Notification) State {
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	return State{List: list, UnreadCount: unread}
}
