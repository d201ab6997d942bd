// Package source reads list members page by page from the members API.
package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/sync"
	"github.com/cybertec-postgresql/list_sync/internal/transport"
)

const (
	// DefaultBaseURL is the members API root used when none is configured
	DefaultBaseURL = "https://us9.api.mailchimp.com/3.0"

	// MaxResponseSize caps the size of one page response (32MB)
	MaxResponseSize = 32 * 1024 * 1024
)

// memberFields limits the response to what is needed to build a sync.Record.
// merge_fields cannot be narrowed down to FNAME and LNAME by the API.
var memberFields = []string{
	"members.id",
	"members.email_address",
	"members.unique_email_id",
	"members.status",
	"members.merge_fields",
	"total_items",
}

// Config holds the members API settings
type Config struct {
	BaseURL string
	APIKey  string
	HTTP    transport.Config
}

// Client fetches pages of list members
type Client struct {
	baseURL       *url.URL
	authorization string
	http          *http.Client
}

// New creates a members API client
func New(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse source URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source URL must use http or https, got %q", base)
	}

	return &Client{
		baseURL:       u,
		authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+cfg.APIKey)),
		http:          transport.NewHTTPClient(cfg.HTTP),
	}, nil
}

type membersResponse struct {
	TotalItems *int     `json:"total_items"`
	Members    []member `json:"members"`
}

type member struct {
	ID            string      `json:"id"`
	EmailAddress  string      `json:"email_address"`
	UniqueEmailID string      `json:"unique_email_id"`
	Status        string      `json:"status"`
	MergeFields   mergeFields `json:"merge_fields"`
}

type mergeFields struct {
	FirstName string `json:"FNAME"`
	LastName  string `json:"LNAME"`
}

// Fetch reads one page of the list members changed since req.Since
func (c *Client) Fetch(ctx context.Context, req sync.PageRequest) (sync.Page, error) {
	endpoint := c.membersURL(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sync.Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authorization)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return sync.Page{}, fmt.Errorf("members api-read: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return sync.Page{}, fmt.Errorf("members api-read: unexpected response code: %d", resp.StatusCode)
	}

	var body membersResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&body); err != nil {
		return sync.Page{}, fmt.Errorf("members api-read: failed to decode response: %w", err)
	}
	if body.TotalItems == nil {
		return sync.Page{}, fmt.Errorf("members api-read: response without total_items")
	}

	records := make([]sync.Record, 0, len(body.Members))
	for _, m := range body.Members {
		records = append(records, sync.Record{
			ID:        m.UniqueEmailID,
			Email:     m.EmailAddress,
			Status:    m.Status,
			FirstName: m.MergeFields.FirstName,
			LastName:  m.MergeFields.LastName,
		})
	}

	logrus.WithFields(logrus.Fields{
		"list":   req.SourceID,
		"offset": req.Offset,
		"count":  len(records),
		"total":  *body.TotalItems,
	}).Debug("Fetched members page")

	return sync.Page{Total: *body.TotalItems, Records: records}, nil
}

func (c *Client) membersURL(req sync.PageRequest) string {
	q := url.Values{}
	q.Set("fields", strings.Join(memberFields, ","))
	q.Set("count", strconv.Itoa(req.PageSize))
	q.Set("offset", strconv.Itoa(req.Offset))
	if req.Since != nil {
		q.Set("since_last_changed", req.Since.Format(time.RFC3339))
	}

	u := c.baseURL.JoinPath("lists", req.SourceID, "members")
	u.RawQuery = q.Encode()
	return u.String()
}
