// Package wayback archives URLs through the Internet Archive's Save Page Now
// endpoint, falling back to the availability API for an existing snapshot.
package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/loopy/internal/archive"
	"github.com/JakeFAU/loopy/internal/policy/ratelimit"
)

const (
	defaultBaseURL         = "https://web.archive.org"
	defaultAvailabilityURL = "https://archive.org/wayback/available"
	defaultUserAgent       = "loopy (+https://github.com/JakeFAU/loopy)"
	defaultTimeout         = 2 * time.Minute
	maxBodyBytes           = 1 << 20
)

// ErrNoSnapshot is returned when a capture fails and no earlier snapshot exists.
var ErrNoSnapshot = errors.New("no archived snapshot")

// Config controls the archive client.
type Config struct {
	BaseURL           string
	AvailabilityURL   string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute float64
	Burst             int
}

// Client implements archive.Archiver.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AvailabilityURL == "" {
		cfg.AvailabilityURL = defaultAvailabilityURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	for _, raw := range []string{cfg.BaseURL, cfg.AvailabilityURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid archive endpoint %q", raw)
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst}),
	}, nil
}

// Archive requests a fresh capture of rawURL. When the capture is refused it
// returns the closest existing snapshot with Cached set.
func (c *Client) Archive(ctx context.Context, rawURL string) (archive.Result, error) {
	archivedURL, captureErr := c.capture(ctx, rawURL)
	if captureErr == nil {
		return archive.Result{ArchivedURL: archivedURL}, nil
	}
	if ctx.Err() != nil {
		return archive.Result{}, fmt.Errorf("capture %s: %w", rawURL, captureErr)
	}

	snapshot, err := c.closest(ctx, rawURL)
	if err != nil {
		return archive.Result{}, fmt.Errorf("capture %s: %w (fallback: %w)", rawURL, captureErr, err)
	}
	return archive.Result{ArchivedURL: snapshot, Cached: true}, nil
}

func (c *Client) capture(ctx context.Context, rawURL string) (string, error) {
	endpoint := c.cfg.BaseURL + "/save/" + rawURL
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("save status %d", resp.StatusCode)
	}
	location := resp.Header.Get("Content-Location")
	if location == "" {
		return "", errors.New("save response missing Content-Location")
	}
	if strings.HasPrefix(location, "/") {
		location = c.cfg.BaseURL + location
	}
	return location, nil
}

type availability struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

func (c *Client) closest(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(c.cfg.AvailabilityURL)
	if err != nil {
		return "", fmt.Errorf("parse availability url: %w", err)
	}
	q := u.Query()
	q.Set("url", rawURL)
	u.RawQuery = q.Encode()

	resp, err := c.get(ctx, u.String())
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("availability status %d", resp.StatusCode)
	}

	var body availability
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode availability: %w", err)
	}
	closest := body.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return "", ErrNoSnapshot
	}
	return closest.URL, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	return resp, nil
}
