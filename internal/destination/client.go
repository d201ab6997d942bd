// Package destination pushes record batches to the ingestion API.
package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/sync"
	"github.com/cybertec-postgresql/list_sync/internal/transport"
)

// MaxResponseSize caps the size of an ingestion response (1MB)
const MaxResponseSize = 1 * 1024 * 1024

// Config holds the ingestion API settings
type Config struct {
	URL    string
	APIKey string
	HTTP   transport.Config
}

// Client writes batches of records to the ingestion endpoint
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates an ingestion API client
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("destination URL must use http or https, got %q", cfg.URL)
	}

	return &Client{
		endpoint: u.String(),
		apiKey:   cfg.APIKey,
		http:     transport.NewHTTPClient(cfg.HTTP),
	}, nil
}

type ingestResponse struct {
	Status  string `json:"status"`
	Content int    `json:"content"`
}

// Write posts records as a JSON array and returns the number the endpoint accepted
func (c *Client) Write(ctx context.Context, records []sync.Record) (sync.WriteResult, error) {
	if records == nil {
		records = []sync.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return sync.WriteResult{}, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return sync.WriteResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return sync.WriteResult{}, fmt.Errorf("ingest api-write: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		return sync.WriteResult{}, fmt.Errorf("ingest api-write: unexpected response code: %d", resp.StatusCode)
	}

	var body ingestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&body); err != nil {
		return sync.WriteResult{}, fmt.Errorf("ingest api-write: failed to decode response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"sent":     len(records),
		"accepted": body.Content,
	}).Debug("Posted batch")

	return sync.WriteResult{Status: body.Status, Accepted: body.Content}, nil
}
