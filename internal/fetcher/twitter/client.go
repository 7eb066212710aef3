// Package twitter fetches timeline pages from a Twitter-compatible REST API.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/clock/system"
	"github.com/JakeFAU/loopy/internal/metrics"
	"github.com/JakeFAU/loopy/internal/timeline"
)

const (
	defaultBaseURL          = "https://api.twitter.com"
	defaultPath             = "/1.1/statuses/home_timeline.json"
	defaultCount            = 200
	defaultTimeout          = 30 * time.Second
	defaultRateLimitWait    = time.Minute
	defaultMaxRateLimitWait = 15 * time.Minute
	retryBaseDelay          = time.Second
	retryMaxDelay           = 2 * time.Minute
	maxBodyBytes            = 32 << 20
)

var (
	// ErrToleranceExceeded is returned once more consecutive errors of one
	// kind occurred than the configured limit allows. It wraps the last error.
	ErrToleranceExceeded = errors.New("error tolerance exceeded")
	// ErrMalformedResponse marks a 2xx body that is not a recognized page shape.
	ErrMalformedResponse = errors.New("malformed timeline response")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("timeline api status %d", e.StatusCode)
	}
	return fmt.Sprintf("timeline api status %d: %s", e.StatusCode, e.Body)
}

type rateLimitError struct {
	wait time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited; retry in %s", e.wait)
}

// Config controls the timeline client.
type Config struct {
	BaseURL     string
	Path        string
	BearerToken string
	UserAgent   string
	// Count is the page size requested per API call.
	Count   int
	Timeout time.Duration
	// ConnectionErrorLimit and HTTPErrorLimit are the numbers of consecutive
	// errors of each kind that are retried. 0 fails on the first error.
	ConnectionErrorLimit int
	HTTPErrorLimit       int
	MaxRateLimitWait     time.Duration
}

// Client implements timeline.Fetcher over HTTP.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	jitter     func() float64
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
	logger     *zap.Logger
}

// New builds a Client. A nil httpClient gets a pooled transport with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRateLimitWait <= 0 {
		cfg.MaxRateLimitWait = defaultMaxRateLimitWait
	}
	if cfg.ConnectionErrorLimit < 0 || cfg.HTTPErrorLimit < 0 {
		return nil, fmt.Errorf("error limits must be >= 0")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid timeline endpoint %q", cfg.BaseURL+cfg.Path)
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: newHTTPTransport(), Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := system.New()
	return &Client{
		cfg:        cfg,
		endpoint:   base.String(),
		httpClient: httpClient,
		jitter:     timeline.RandomUnit,
		sleep:      clk.Sleep,
		now:        clk.Now,
		logger:     logger,
	}, nil
}

// FetchPage fetches up to maxSubpages API pages, each older than the last,
// and returns their items newest first. It stops early on an empty page.
func (c *Client) FetchPage(ctx context.Context, cursor timeline.Cursor, maxSubpages int) ([]timeline.Item, error) {
	if maxSubpages <= 0 {
		maxSubpages = 1
	}
	var items []timeline.Item
	maxID := cursor.MaxID
	for sub := 0; sub < maxSubpages; sub++ {
		page, err := c.fetchWithTolerance(ctx, cursor.SinceID, maxID)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)

		next := decrementID(oldestID(page))
		if next == "" {
			break
		}
		maxID = next
	}
	return items, nil
}

func (c *Client) fetchWithTolerance(ctx context.Context, sinceID, maxID string) ([]timeline.Item, error) {
	connErrs, httpErrs := 0, 0
	for attempt := 0; ; attempt++ {
		page, err := c.fetchOnce(ctx, sinceID, maxID)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var limited *rateLimitError
		if errors.As(err, &limited) {
			metrics.ObserveFetchRetry("rate_limit")
			c.logger.Warn("rate limited by timeline api", zap.Duration("wait", limited.wait))
			if err := c.sleep(ctx, limited.wait); err != nil {
				return nil, err
			}
			continue
		}

		kind, limit, count := "connection", c.cfg.ConnectionErrorLimit, &connErrs
		var status *StatusError
		if errors.As(err, &status) || errors.Is(err, ErrMalformedResponse) {
			if status != nil && status.StatusCode < http.StatusInternalServerError {
				return nil, err
			}
			kind, limit, count = "http", c.cfg.HTTPErrorLimit, &httpErrs
		}
		*count++
		if *count > limit {
			return nil, fmt.Errorf("%w: %d consecutive %s errors: %w", ErrToleranceExceeded, *count, kind, err)
		}

		metrics.ObserveFetchRetry(kind)
		delay := c.retryDelay(attempt)
		c.logger.Warn("timeline request failed; retrying",
			zap.String("kind", kind),
			zap.Int("consecutive", *count),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, sinceID, maxID string) ([]timeline.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("count", strconv.Itoa(c.cfg.Count))
	q.Set("tweet_mode", "extended")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timeline request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read timeline body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &rateLimitError{wait: c.rateLimitWait(resp.Header)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(body)), 256)}
	}
	return decodePage(body)
}

// retryDelay doubles from retryBaseDelay per attempt up to retryMaxDelay and
// keeps between half and all of it.
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := retryMaxDelay
	if attempt < 16 {
		delay = min(retryBaseDelay<<attempt, retryMaxDelay)
	}
	return delay/2 + time.Duration(c.jitter()*float64(delay/2))
}

// rateLimitWait derives the wait from x-rate-limit-reset (epoch seconds).
func (c *Client) rateLimitWait(h http.Header) time.Duration {
	wait := defaultRateLimitWait
	if reset, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64); err == nil {
		wait = time.Unix(reset, 0).Sub(c.now()) + time.Second
	}
	if wait < time.Second {
		wait = time.Second
	}
	if wait > c.cfg.MaxRateLimitWait {
		wait = c.cfg.MaxRateLimitWait
	}
	return wait
}

// decodePage accepts a JSON array of items, an object with "statuses", or an
// object with "ids".
func decodePage(body []byte) ([]timeline.Item, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var elems []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	case '{':
		var envelope struct {
			Statuses []json.RawMessage `json:"statuses"`
			IDs      []json.RawMessage `json:"ids"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		switch {
		case envelope.Statuses != nil:
			elems = envelope.Statuses
		case envelope.IDs != nil:
			elems = envelope.IDs
		default:
			return nil, fmt.Errorf("%w: object without statuses or ids", ErrMalformedResponse)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedResponse, trimmed[0])
	}

	items := make([]timeline.Item, 0, len(elems))
	for _, elem := range elems {
		if bytes.Equal(bytes.TrimSpace(elem), []byte("null")) {
			continue
		}
		item, err := timeline.ParseItem(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func oldestID(items []timeline.Item) string {
	oldest := ""
	for _, item := range items {
		id := item.ID()
		if id == "" {
			continue
		}
		if oldest == "" || timeline.CompareIDs(id, oldest) < 0 {
			oldest = id
		}
	}
	return oldest
}

// decrementID returns id-1 as a decimal string, or "" when id is not a
// positive integer.
func decrementID(id string) string {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() <= 0 {
		return ""
	}
	return n.Sub(n, big.NewInt(1)).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
