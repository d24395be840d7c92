// Package remote is the boundary to the cloud backend. The sync engine talks
// to the Client interface only; the concrete implementation speaks a
// PostgREST-style REST dialect. Everything here is replaceable in tests with
// an in-memory fake.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned when no endpoint or API key has been set.
// Callers treat it as "stay offline", not as a failure.
var ErrNotConfigured = errors.New("remote backend not configured")

// Record is one row in generic form. Table-specific shape is the payload's
// business; the client only moves it.
type Record = map[string]any

// Client is the minimal surface the sync engine needs.
type Client interface {
	// Insert creates a row. Duplicate keys are an error.
	Insert(ctx context.Context, table string, record Record) error
	// Upsert creates or replaces a row by its primary key.
	Upsert(ctx context.Context, table string, record Record) error
	// Delete removes the row with the given id. Deleting a missing row is
	// not an error.
	Delete(ctx context.Context, table, id string) error
	// SelectAll returns every row in the table.
	SelectAll(ctx context.Context, table string) ([]Record, error)
	// Ping performs a cheap reachability check.
	Ping(ctx context.Context) error
}

// Config carries the connection parameters for the HTTP client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPClient implements Client against a PostgREST-compatible endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	deviceID string
	client   *http.Client
	logger   *log.Logger
}

// NewHTTPClient builds a client. Returns ErrNotConfigured when the endpoint
// or key is empty so callers can branch on it.
func NewHTTPClient(cfg Config, logger *log.Logger) (*HTTPClient, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		deviceID: uuid.NewString(),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// DeviceID identifies this client instance for the lifetime of the process.
func (c *HTTPClient) DeviceID() string {
	return c.deviceID
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Device-ID", c.deviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *HTTPClient) Insert(ctx context.Context, table string, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/"+table, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")
	_, err = c.do(req)
	return err
}

func (c *HTTPClient) Upsert(ctx context.Context, table string, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/"+table, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation,resolution=merge-duplicates")
	_, err = c.do(req)
	return err
}

func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	path := "/" + table + "?id=eq." + url.QueryEscape(id)
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *HTTPClient) SelectAll(ctx context.Context, table string) ([]Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/"+table+"?select=*", nil)
	if err != nil {
		return nil, err
	}
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return records, nil
}

// Ping issues a HEAD against the endpoint root. Any HTTP response, including
// an error status, proves reachability.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, "/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
