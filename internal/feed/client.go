package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonathan/feedforge/internal/retry"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; FeedForge/1.0)"

// Error represents an error while talking to a feed endpoint.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feed error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("feed error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Client is the HTTP implementation of Source. Requests are rate limited
// per host so that concurrent sources on the same provider share a budget.
type Client struct {
	httpClient *http.Client
	limiter    *HostLimiter
	userAgent  string
}

// Options configures the client.
type Options struct {
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
}

// NewClient creates a feed client.
func NewClient(opts *Options) *Client {
	timeout := DefaultTimeout
	userAgent := DefaultUserAgent
	ratePerSecond := 2.0
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.UserAgent != "" {
			userAgent = opts.UserAgent
		}
		if opts.RatePerSecond > 0 {
			ratePerSecond = opts.RatePerSecond
		}
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewHostLimiter(ratePerSecond, 5),
		userAgent:  userAgent,
	}
}

// batchResponse is the wire shape of a feed endpoint response.
type batchResponse struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// FetchItems retrieves a batch of top-level items after the cursor.
func (c *Client) FetchItems(ctx context.Context, feedURL, cursor string, limit int) ([]Item, string, error) {
	endpoint, err := buildURL(feedURL, "", cursor, limit)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}
	return c.fetchBatch(ctx, endpoint)
}

// FetchNested retrieves nested items for one parent, resuming from the
// per-thread cursor.
func (c *Client) FetchNested(ctx context.Context, feedURL, parentID, cursor string) ([]Item, string, error) {
	endpoint, err := buildURL(feedURL, parentID, cursor, 0)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}
	return c.fetchBatch(ctx, endpoint)
}

func (c *Client) fetchBatch(ctx context.Context, endpoint string) ([]Item, string, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", retry.Permanent(&Error{URL: endpoint, Message: "failed to create request", Cause: err})
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are transient by default (timeouts, resets).
		return nil, "", retry.Retryable(&Error{URL: endpoint, Message: "HTTP request failed", Cause: err})
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", retry.Retryable(&Error{URL: endpoint, Message: "failed to read response body", Cause: err})
	}

	if resp.StatusCode != http.StatusOK {
		ferr := &Error{URL: endpoint, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
		if retry.ClassifyStatus(resp.StatusCode) == retry.ClassRetryable {
			return nil, "", retry.Retryable(ferr)
		}
		return nil, "", retry.Permanent(ferr)
	}

	var batch batchResponse
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, "", retry.Permanent(&Error{URL: endpoint, Message: "malformed feed response", Cause: err})
	}

	// Items may carry HTML instead of plain text; strip it here so the rest
	// of the pipeline only ever sees text.
	for i := range batch.Items {
		if batch.Items[i].Text == "" && batch.Items[i].HTML != "" {
			text, err := StripHTML(batch.Items[i].HTML)
			if err == nil {
				batch.Items[i].Text = text
			}
		}
	}

	return batch.Items, batch.NextCursor, nil
}

func buildURL(feedURL, parentID, cursor string, limit int) (string, error) {
	parsed, err := url.Parse(feedURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{URL: feedURL, Message: "invalid feed URL", Cause: err}
	}

	if parentID != "" {
		parsed = parsed.JoinPath("threads", parentID)
	}

	q := parsed.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
