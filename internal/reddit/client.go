// Package reddit implements the external content source client on top of the
// reddit OAuth API, using the password grant for a script application.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spyglass-project/spyglass-crawler/internal/crawl"
)

// Config captures credentials and client tuning knobs.
type Config struct {
	BaseURL  string
	TokenURL string

	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// Client issues authenticated read calls against the source platform. All
// requests share one token bucket so total request rate stays under the
// platform limit regardless of traversal fan-out.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	backoff *backoffPolicy
	logger  *zap.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient constructs a Client with defaults applied for unset knobs.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oauth.reddit.com"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "spyglass-crawler/1.0 (subreddit analysis)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		backoff: newBackoffPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger:  logger,
	}
}

// NewPosts returns the most recent posts in a board.
func (c *Client) NewPosts(ctx context.Context, board string, limit int) ([]crawl.Post, error) {
	return c.listPosts(ctx, fmt.Sprintf("/r/%s/new.json", url.PathEscape(board)), limit)
}

// HotPosts returns the currently popular posts in a board.
func (c *Client) HotPosts(ctx context.Context, board string, limit int) ([]crawl.Post, error) {
	return c.listPosts(ctx, fmt.Sprintf("/r/%s/hot.json", url.PathEscape(board)), limit)
}

func (c *Client) listPosts(ctx context.Context, path string, limit int) ([]crawl.Post, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	var env listingEnvelope
	if err := c.get(ctx, path, query, &env); err != nil {
		return nil, err
	}
	return parsePosts(env)
}

// CommentTree returns the post's comment tree expanded to a bounded depth
// and bounded count. Unlimited expansion is deliberately not supported.
func (c *Client) CommentTree(ctx context.Context, post crawl.Post, maxComments, maxDepth int) ([]crawl.Comment, error) {
	query := url.Values{
		"limit": {strconv.Itoa(maxComments)},
		"depth": {strconv.Itoa(maxDepth)},
	}
	var envs []listingEnvelope
	path := fmt.Sprintf("/comments/%s.json", url.PathEscape(post.ID))
	if err := c.get(ctx, path, query, &envs); err != nil {
		return nil, err
	}
	// The endpoint returns two listings: the post itself, then its comments.
	if len(envs) < 2 {
		return nil, nil
	}
	return flattenComments(envs[1], maxComments, maxDepth)
}

// UserComments returns the user's comment history, newest first.
func (c *Client) UserComments(ctx context.Context, username string, limit int) ([]crawl.Comment, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	var env listingEnvelope
	path := fmt.Sprintf("/user/%s/comments.json", url.PathEscape(username))
	if err := c.get(ctx, path, query, &env); err != nil {
		return nil, err
	}
	return flattenComments(env, limit, 1)
}

// UserSubmissions returns the user's submission history, newest first.
func (c *Client) UserSubmissions(ctx context.Context, username string, limit int) ([]crawl.Post, error) {
	path := fmt.Sprintf("/user/%s/submitted.json", url.PathEscape(username))
	return c.listPosts(ctx, path, limit)
}

// get performs an authenticated GET with rate limiting and bounded backoff
// on throttling. Exhausted retries surface crawl.ErrRateLimited so callers
// can classify the failure.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		status, err := c.doGet(ctx, path, query, out)
		switch {
		case err != nil:
			return err
		case status == http.StatusOK:
			return nil
		case status == http.StatusTooManyRequests:
			if attempt >= c.cfg.MaxRetries {
				return fmt.Errorf("get %s: %w", path, crawl.ErrRateLimited)
			}
			delay := c.backoff.delay(attempt)
			c.logger.Warn("source throttled, backing off",
				zap.String("path", path),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt+1),
			)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("get %s: %w", path, crawl.ErrRateLimited)
			}
		case status == http.StatusUnauthorized:
			// Token revoked or expired server-side; drop it and retry once.
			c.invalidateToken()
			if attempt >= c.cfg.MaxRetries {
				return fmt.Errorf("get %s: unauthorized", path)
			}
		default:
			return fmt.Errorf("get %s: unexpected status %d", path, status)
		}
	}
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) (int, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return 0, err
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return http.StatusOK, nil
}

// accessToken returns a cached bearer token, refreshing it via the password
// grant when missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("fetch token: %w", crawl.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("fetch token: empty access token")
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
