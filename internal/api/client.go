// Package api talks to the media processing backend: it fetches media
// metadata and submits processing jobs, normalizing both into domain types.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	videoInfoPath = "/video-info"
	processPath   = "/process"

	maxEnvelopeBytes = 4 << 20

	defaultMetadataTimeout = 60 * time.Second
	defaultProcessTimeout  = 15 * time.Minute
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	Saver           PayloadSaver
	Logger          *slog.Logger
	MetadataTimeout time.Duration
	ProcessTimeout  time.Duration
}

// Client issues backend requests. It holds no session state; every call is
// parameterized by the values passed in.
type Client struct {
	baseURL         string
	http            *http.Client
	saver           PayloadSaver
	logger          *slog.Logger
	metadataTimeout time.Duration
	processTimeout  time.Duration
}

// NewClient builds a backend client with defaults for unset options.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		http:            opts.HTTPClient,
		saver:           opts.Saver,
		logger:          opts.Logger,
		metadataTimeout: opts.MetadataTimeout,
		processTimeout:  opts.ProcessTimeout,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.metadataTimeout <= 0 {
		c.metadataTimeout = defaultMetadataTimeout
	}
	if c.processTimeout <= 0 {
		c.processTimeout = defaultProcessTimeout
	}
	return c
}

// BaseURL returns the backend base path requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// postJSON sends body as JSON to path and returns the raw response. The
// caller owns the response body.
func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "path", path, "elapsed", time.Since(started), "error", err)
		return nil, err
	}
	c.logger.Debug("backend request finished",
		"path", path,
		"status", resp.StatusCode,
		"contentType", resp.Header.Get("Content-Type"),
		"elapsed", time.Since(started),
	)
	return resp, nil
}

// readEnvelope reads a bounded JSON body into out.
func readEnvelope(body io.Reader, out any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxEnvelopeBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// isJSON reports whether a Content-Type header declares structured data.
func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
