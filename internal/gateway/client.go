// Package gateway implements the HTTP client for the spyglass persistence
// API, which fronts the relational store. All writes are upserts guarded by
// a shared-secret header.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/spyglass-project/spyglass-crawler/internal/crawl"
)

const writeKeyHeader = "x-spyglass-key"

// Config holds the gateway endpoint and credentials.
type Config struct {
	BaseURL  string
	WriteKey string
	Timeout  time.Duration
}

// Client talks to the spyglass REST API under /api/reddit.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Boards returns every known board, tracked or not. The full list is needed
// so tracking status can propagate onto transitively discovered boards.
func (c *Client) Boards(ctx context.Context) ([]crawl.Board, error) {
	var boards []crawl.Board
	if err := c.get(ctx, "/api/reddit/subreddit", nil, false, &boards); err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// UpsertBoard creates or updates a board by name.
func (c *Client) UpsertBoard(ctx context.Context, board crawl.Board) (crawl.Board, error) {
	var saved crawl.Board
	if err := c.post(ctx, "/api/reddit/subreddit", board, &saved); err != nil {
		return crawl.Board{}, fmt.Errorf("upsert board %q: %w", board.Name, err)
	}
	return saved, nil
}

// UpsertUser creates or updates a user existence marker by username.
func (c *Client) UpsertUser(ctx context.Context, username string) error {
	payload := map[string]string{"username": username}
	if err := c.post(ctx, "/api/reddit/user", payload, nil); err != nil {
		return fmt.Errorf("upsert user %q: %w", username, err)
	}
	return nil
}

// UpsertPost creates or updates a post by external id.
func (c *Client) UpsertPost(ctx context.Context, post crawl.Post) error {
	if err := c.post(ctx, "/api/reddit/post", post, nil); err != nil {
		return fmt.Errorf("upsert post %q: %w", post.ID, err)
	}
	return nil
}

// CommentExists reports whether a comment id is already persisted. The
// lookup endpoint returns a list; absence is an empty list, not an error.
func (c *Client) CommentExists(ctx context.Context, id string) (bool, error) {
	query := url.Values{"id": {id}}
	var matches []json.RawMessage
	if err := c.get(ctx, "/api/reddit/comment", query, false, &matches); err != nil {
		return false, fmt.Errorf("lookup comment %q: %w", id, err)
	}
	return len(matches) > 0, nil
}

// UpsertComment creates or updates a comment by external id.
func (c *Client) UpsertComment(ctx context.Context, comment crawl.Comment) error {
	payload := commentPayload{
		ID:        comment.ID,
		Author:    comment.Author,
		Body:      comment.Body,
		BodyHTML:  comment.BodyHTML,
		Subreddit: comment.Board,
		Permalink: comment.Permalink,
	}
	if comment.CreatedUTC > 0 {
		created := time.Unix(comment.CreatedUTC, 0).UTC()
		payload.CommentDate = &created
	}
	if err := c.post(ctx, "/api/reddit/comment", payload, nil); err != nil {
		return fmt.Errorf("upsert comment %q: %w", comment.ID, err)
	}
	return nil
}

// HighActivityUsers returns the users with the highest stored comment
// volume, used by the backfill job.
func (c *Client) HighActivityUsers(ctx context.Context) ([]ActiveUser, error) {
	var users []ActiveUser
	if err := c.get(ctx, "/api/reddit/user/high", nil, true, &users); err != nil {
		return nil, fmt.Errorf("list high-activity users: %w", err)
	}
	return users, nil
}

// UserDetail returns the stored user record with its persisted comments.
func (c *Client) UserDetail(ctx context.Context, username string) (UserDetail, error) {
	query := url.Values{"username": {username}}
	var detail UserDetail
	if err := c.get(ctx, "/api/reddit/user", query, true, &detail); err != nil {
		return UserDetail{}, fmt.Errorf("user detail %q: %w", username, err)
	}
	return detail, nil
}

type commentPayload struct {
	ID          string     `json:"id"`
	Author      string     `json:"author"`
	Body        string     `json:"body"`
	BodyHTML    string     `json:"body_html"`
	Subreddit   string     `json:"subreddit"`
	Permalink   string     `json:"permalink"`
	CommentDate *time.Time `json:"comment_date,omitempty"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, authed bool, out any) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if authed {
		req.Header.Set(writeKeyHeader, c.cfg.WriteKey)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(writeKeyHeader, c.cfg.WriteKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
