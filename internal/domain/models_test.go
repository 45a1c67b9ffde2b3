package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"engage/internal/domain"
)

func TestFeedItemBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &domain.FeedItem{ID: "a", CreatedAt: base}
	b := &domain.FeedItem{ID: "b", CreatedAt: base.Add(time.Second)}
	tied := &domain.FeedItem{ID: "b", CreatedAt: base}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, a.Before(tied), "equal timestamps break the tie on id")
	assert.False(t, a.Before(a))
}

func TestDirectRoomSymmetry(t *testing.T) {
	assert.Equal(t, domain.DirectRoom("u1", "u2"), domain.DirectRoom("u2", "u1"))
	assert.Equal(t, "chat:u1:u2", domain.DirectRoom("u2", "u1"))
}

func TestPollVote(t *testing.T) {
	poll := domain.PollPayload{
		Question: "lunch?",
		Options:  []domain.PollOption{{Label: "pizza"}, {Label: "salad"}},
		Status:   domain.PollOpen,
	}

	assert.NoError(t, poll.Vote("pizza"))
	assert.Equal(t, 1, poll.Options[0].Votes)

	assert.ErrorIs(t, poll.Vote("sushi"), domain.ErrInvalidInput)

	poll.Status = domain.PollEnded
	assert.ErrorIs(t, poll.Vote("pizza"), domain.ErrWrite)
}

func TestSettingsCategory(t *testing.T) {
	s := domain.DefaultSettings()
	assert.True(t, s.Category(domain.NotifyPoll))

	s.Poll = false
	assert.False(t, s.Category(domain.NotifyPoll))
	assert.True(t, s.Category(domain.NotifyMessage))
	assert.True(t, s.Category(domain.NotificationType("unknown")), "unknown categories default to enabled")
}
