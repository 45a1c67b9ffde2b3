package domain

import (
	"encoding/json"
	"fmt"
)

// MessagePayload is the payload of a KindMessage item.
type MessagePayload struct {
	Text      string         `json:"text"`
	Edited    bool           `json:"edited,omitempty"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

// PollStatus tracks the lifecycle of a live poll.
type PollStatus string

const (
	PollOpen  PollStatus = "open"
	PollEnded PollStatus = "ended"
)

// PollOption is one votable choice with its running tally.
type PollOption struct {
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// PollPayload is the payload of a KindPoll item.
type PollPayload struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	Status   PollStatus   `json:"status"`
}

// Vote increments the tally for the named option.
func (p *PollPayload) Vote(option string) error {
	if p.Status == PollEnded {
		return fmt.Errorf("%w: poll has ended", ErrWrite)
	}
	for i := range p.Options {
		if p.Options[i].Label == option {
			p.Options[i].Votes++
			return nil
		}
	}
	return fmt.Errorf("%w: unknown option %q", ErrInvalidInput, option)
}

// QuestionPayload is the payload of a KindQuestion item.
type QuestionPayload struct {
	Text     string `json:"text"`
	Upvotes  int    `json:"upvotes"`
	Answer   string `json:"answer,omitempty"`
	Answered bool   `json:"answered"`
}

// EncodePayload marshals a typed payload into the FeedItem envelope form.
func EncodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload unmarshals an item payload into the given typed form.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrInvalidInput, err)
	}
	return nil
}
