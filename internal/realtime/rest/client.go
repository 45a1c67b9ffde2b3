package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"engage/internal/domain"
)

// Client talks to the snapshot/write REST API. It implements
// domain.SnapshotAPI for the reconcilers and the optimistic tracker.
type Client struct {
	baseURL string
	creds   domain.TokenSource
	http    *http.Client
}

var _ domain.SnapshotAPI = (*Client)(nil)

func NewClient(baseURL string, creds domain.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type pageResponse struct {
	Items      []domain.FeedItem `json:"items"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// TopicPage fetches one snapshot page, oldest first within the page.
func (c *Client) TopicPage(ctx context.Context, topicID string, page int) (*domain.Page, error) {
	endpoint := fmt.Sprintf("%s/api/topics/%s?page=%s", c.baseURL, url.PathEscape(topicID), strconv.Itoa(page))
	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.Page{Items: resp.Items, Page: resp.Page, TotalPages: resp.TotalPages}, nil
}

// ItemsBefore pages backwards from a known item. The cursor anchors on the
// stored row, so new writes cannot shift the window the way numbered pages
// would.
func (c *Client) ItemsBefore(ctx context.Context, topicID, beforeID string) ([]domain.FeedItem, error) {
	endpoint := fmt.Sprintf("%s/api/topics/%s?before=%s", c.baseURL, url.PathEscape(topicID), url.QueryEscape(beforeID))
	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CreateItem issues the authoritative write for a new feed item and returns
// the canonical item.
func (c *Client) CreateItem(ctx context.Context, topicID string, in domain.CreateItemInput) (*domain.FeedItem, error) {
	endpoint := fmt.Sprintf("%s/api/topics/%s/items", c.baseURL, url.PathEscape(topicID))
	var item domain.FeedItem
	if err := c.do(ctx, http.MethodPost, endpoint, in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// MutateItem issues a vote/answer/react mutation and returns the updated item.
func (c *Client) MutateItem(ctx context.Context, itemID string, op domain.MutationOp, in domain.MutateItemInput) (*domain.FeedItem, error) {
	endpoint := fmt.Sprintf("%s/api/items/%s/%s", c.baseURL, url.PathEscape(itemID), op)
	var item domain.FeedItem
	if err := c.do(ctx, http.MethodPost, endpoint, in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

type editItemRequest struct {
	Text      string `json:"text"`
	ClientRef string `json:"client_ref"`
}

// EditItem replaces a message body and returns the updated item. The push
// fan-out delivers the edit to every subscriber as a message-edited event.
func (c *Client) EditItem(ctx context.Context, itemID, text, clientRef string) (*domain.FeedItem, error) {
	endpoint := fmt.Sprintf("%s/api/items/%s", c.baseURL, url.PathEscape(itemID))
	var item domain.FeedItem
	if err := c.do(ctx, http.MethodPut, endpoint, editItemRequest{Text: text, ClientRef: clientRef}, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes a message the caller authored.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	endpoint := fmt.Sprintf("%s/api/items/%s", c.baseURL, url.PathEscape(itemID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Topics lists the feed scopes of an event.
func (c *Client) Topics(ctx context.Context, eventID string) ([]domain.Topic, error) {
	endpoint := fmt.Sprintf("%s/api/events/%s/topics", c.baseURL, url.PathEscape(eventID))
	var topics []domain.Topic
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

type createTopicRequest struct {
	Kind  domain.ItemKind `json:"kind"`
	Title string          `json:"title"`
}

// CreateTopic registers a new feed scope inside an event.
func (c *Client) CreateTopic(ctx context.Context, eventID string, kind domain.ItemKind, title string) (*domain.Topic, error) {
	endpoint := fmt.Sprintf("%s/api/events/%s/topics", c.baseURL, url.PathEscape(eventID))
	var topic domain.Topic
	if err := c.do(ctx, http.MethodPost, endpoint, createTopicRequest{Kind: kind, Title: title}, &topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.creds != nil {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrTimeout, method, endpoint)
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrTransport, err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s (%d)", domain.ErrAuth, method, endpoint, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s %s", domain.ErrTimeout, method, endpoint)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%w: %s", domain.ErrWrite, e.Error)
	default:
		return fmt.Errorf("%w: %s %s: %s", domain.ErrTransport, method, endpoint, resp.Status)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is what the auth collaborator hands back on success.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

// Login exchanges credentials for a token. The session layer treats auth as
// an external collaborator; this helper exists for the client binaries.
func Login(ctx context.Context, baseURL, username, password string) (*LoginResponse, error) {
	c := &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, baseURL+"/api/auth/login", loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		if errors.Is(err, domain.ErrWrite) {
			return nil, fmt.Errorf("%w: login rejected", domain.ErrAuth)
		}
		return nil, err
	}
	return &resp, nil
}
