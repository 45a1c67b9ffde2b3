package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"engage/internal/domain"
)

func TestErrStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"InvalidInput", domain.ErrInvalidInput, http.StatusBadRequest},
		{"Auth", domain.ErrAuth, http.StatusUnauthorized},
		{"NotFound", domain.ErrNotFound, http.StatusNotFound},
		{"Conflict", domain.ErrConflict, http.StatusConflict},
		{"RejectedWrite", domain.ErrWrite, http.StatusUnprocessableEntity},
		{"Unknown", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errStatus(fmt.Errorf("wrapped: %w", tc.err)))
		})
	}

	t.Run("EndedPollVoteIsNotAServerError", func(t *testing.T) {
		poll := domain.PollPayload{
			Options: []domain.PollOption{{Label: "pizza"}},
			Status:  domain.PollEnded,
		}
		err := poll.Vote("pizza")
		assert.Equal(t, http.StatusUnprocessableEntity, errStatus(fmt.Errorf("mutate: %w", err)))
	})
}
