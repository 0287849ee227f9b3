// Package client talks to the Mastodon-compatible client API of any instance,
// home or origin.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/domain"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is a 404, or a search that came back empty
	ErrNotFound = errors.New("not found")
	// ErrMalformed wraps every JSON or validation failure
	ErrMalformed = errors.New("malformed response")
)

// maxBodyBytes caps a single API response, large contexts included
const maxBodyBytes = 8 << 20

// StatusError is a non-2xx answer other than 404
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered with status %d", e.URL, e.Code)
}

// Classify turns err into the code recorded on instance records
func Classify(err error) int {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &statusErr):
		return statusErr.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformed):
		return domain.ErrCodeMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrCodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.ErrCodeTimeout
	}
	return domain.ErrCodeNetwork
}

// IsForbidden reports a 401 or 403, the answer of instances that require
// authorized fetch for the endpoint
func IsForbidden(err error) bool {
	code := Classify(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

type Options struct {
	// Scheme is "https" unless set
	Scheme     string
	UserAgent  string
	Rate       float64
	Burst      int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client performs rate limited GET requests, one limiter per host
type Client struct {
	scheme    string
	userAgent string
	http      *http.Client
	logger    *log.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func New(opts Options) *Client {
	c := &Client{
		scheme:    opts.Scheme,
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
		logger:    opts.Logger,
		limiters:  make(map[string]*rate.Limiter),
		rate:      rate.Limit(opts.Rate),
		burst:     opts.Burst,
	}
	if c.scheme == "" {
		c.scheme = "https"
	}
	if c.userAgent == "" {
		c.userAgent = "fedmerge"
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	c.logger = c.logger.WithPrefix("client")
	if c.rate <= 0 {
		c.rate = rate.Inf
	}
	if c.burst <= 0 {
		c.burst = 1
	}
	return c
}

// InstanceInfo is the part of /api/v1/instance used for software detection
type InstanceInfo struct {
	URI     string `json:"uri"`
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Version string `json:"version"`
	URLs    struct {
		StreamingAPI string `json:"streaming_api"`
	} `json:"urls"`
}

type searchResponse struct {
	Statuses []json.RawMessage `json:"statuses"`
	Accounts []json.RawMessage `json:"accounts"`
}

func (c *Client) GetInstance(ctx context.Context, host string) (*InstanceInfo, error) {
	var info InstanceInfo
	if err := c.get(ctx, host, "/api/v1/instance", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetStatus(ctx context.Context, host, id string) (*domain.Post, error) {
	var raw json.RawMessage
	if err := c.get(ctx, host, "/api/v1/statuses/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return DecodePost(raw)
}

func (c *Client) GetContext(ctx context.Context, host, id string) (*domain.ReplyTree, error) {
	var raw json.RawMessage
	if err := c.get(ctx, host, "/api/v1/statuses/"+url.PathEscape(id)+"/context", nil, &raw); err != nil {
		return nil, err
	}
	return DecodeReplyTree(raw)
}

// SearchStatus asks host to resolve q, usually a status URI, into its own copy
func (c *Client) SearchStatus(ctx context.Context, host, q string) (*domain.Post, error) {
	res, err := c.search(ctx, host, q, "statuses")
	if err != nil {
		return nil, err
	}
	if len(res.Statuses) == 0 {
		return nil, ErrNotFound
	}
	return DecodePost(res.Statuses[0])
}

func (c *Client) SearchAccount(ctx context.Context, host, q string) (*domain.Account, error) {
	res, err := c.search(ctx, host, q, "accounts")
	if err != nil {
		return nil, err
	}
	if len(res.Accounts) == 0 {
		return nil, ErrNotFound
	}
	return DecodeAccount(res.Accounts[0])
}

// LookupAccount finds an account by exact handle without remote resolution
func (c *Client) LookupAccount(ctx context.Context, host, acct string) (*domain.Account, error) {
	var raw json.RawMessage
	query := url.Values{"acct": {strings.TrimPrefix(acct, "@")}}
	if err := c.get(ctx, host, "/api/v1/accounts/lookup", query, &raw); err != nil {
		return nil, err
	}
	return DecodeAccount(raw)
}

func (c *Client) GetAccount(ctx context.Context, host, id string) (*domain.Account, error) {
	var raw json.RawMessage
	if err := c.get(ctx, host, "/api/v1/accounts/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return DecodeAccount(raw)
}

// AccountStatuses fetches a profile post list. query is passed through as-is
// (max_id, limit, exclude_replies...).
func (c *Client) AccountStatuses(ctx context.Context, host, id string, query url.Values) ([]domain.Post, error) {
	var raw json.RawMessage
	if err := c.get(ctx, host, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", query, &raw); err != nil {
		return nil, err
	}
	return DecodePosts(raw)
}

func (c *Client) search(ctx context.Context, host, q, kind string) (*searchResponse, error) {
	query := url.Values{
		"q":       {q},
		"resolve": {"true"},
		"limit":   {"1"},
		"type":    {kind},
	}
	var res searchResponse
	if err := c.get(ctx, host, "/api/v2/search", query, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, exists := c.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(c.rate, c.burst)
		c.limiters[host] = limiter
	}
	return limiter
}

func (c *Client) get(ctx context.Context, host, path string, query url.Values, out any) error {
	// path segments are escaped by the callers
	endpoint := c.scheme + "://" + host + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	if err := c.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", host, waitError(ctx, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", host, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request", "url", endpoint, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, endpoint, err)
	}
	return nil
}

// waitError maps a limiter failure onto the context error behind it. Wait
// gives up before the deadline when the next token would come too late, so
// ctx.Err() can still be nil then.
func waitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
