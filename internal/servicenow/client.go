// Package servicenow provides the HTTP client for the ServiceNow Table API.
//
// # Client Architecture
//
// The Client wraps Go's standard net/http.Client and provides:
//
//   - Authentication: Delegates to the [Authenticator] interface for token management.
//   - Retry with backoff: Uses exponential backoff with jitter for transient errors.
//   - 401 recovery: Calls [Authenticator.ForceRefresh] and retries once.
//   - 429 rate limiting: Respects the Retry-After header from ServiceNow.
//   - Optional rate limiter: Proactive client-side rate limiting via golang.org/x/time/rate.
//
// # Retry Strategy
//
// The retry loop differentiates errors by HTTP status code:
//
//	┌─────────────────────┬─────────────────────────────────────────────────┐
//	│ Status / Error      │ Action                                          │
//	├─────────────────────┼─────────────────────────────────────────────────┤
//	│ 2xx                 │ Success: return parsed response                 │
//	│ 401 Unauthorized    │ ForceRefresh auth, retry once (no backoff)      │
//	│ 429 Too Many Reqs   │ Sleep for Retry-After header value, then retry  │
//	│ 5xx / network error │ Exponential backoff with jitter (100ms → 5min)  │
//	│                     │ except POST, which fails immediately            │
//	│ 4xx (other)         │ Fatal: return *APIError, do not retry           │
//	└─────────────────────┴─────────────────────────────────────────────────┘
//
// A POST that failed with a 5xx or a broken connection may already have
// created the record, so inserts are never replayed.
//
// # URL Construction
//
// APIs are called at: {BaseURL}{TableAPIPath}/{tableName}[/{sys_id}]?...
//
// Query parameters follow the ServiceNow Table API convention:
//   - sysparm_query: Encoded query string from [QueryBuilder]
//   - sysparm_limit: Max records to return
//   - sysparm_offset: Pagination offset
//   - sysparm_exclude_reference_link: true (strip reference URLs)
//   - sysparm_fields: Comma-separated field list
//   - sysparm_display_value: true, false or all (see [WithDisplayValue])
//
// # Thread Safety
//
// The Client is safe for concurrent use. The underlying http.Client handles
// connection pooling, and the Authenticator ensures thread-safe token access.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/observability"
	"golang.org/x/time/rate"
)

// Client provides methods to interact with the ServiceNow Table API.
// All methods are safe for concurrent use.
//
// Failed calls return an *APIError (possibly wrapped) when ServiceNow
// answered with a non-2xx status.
type Client interface {
	// GetRecords queries a ServiceNow table and returns matching records in
	// the order ServiceNow returned them.
	// The query parameter must not be nil (use NewQueryBuilder() for an empty query).
	// Fields can be nil to return all fields.
	GetRecords(ctx context.Context, table string, query *QueryBuilder, offset int, limit int, fields []string, opts ...RequestOption) ([]Record, error)

	// GetRecord reads a single record by sys_id. A missing record is an
	// *APIError with StatusCode 404.
	GetRecord(ctx context.Context, table string, sysID string, fields []string, opts ...RequestOption) (Record, error)

	// InsertRecord creates a new record in the specified ServiceNow table.
	// Returns the created record (which includes the assigned sys_id).
	InsertRecord(ctx context.Context, table string, record Record, opts ...RequestOption) (*Record, error)

	// UpdateRecord updates an existing record identified by sysID in the
	// specified table. Uses HTTP PATCH for partial updates.
	// Returns the updated record.
	UpdateRecord(ctx context.Context, table string, sysID string, record Record, opts ...RequestOption) (*Record, error)

	// Close releases any resources held by the client.
	Close()
}

// RequestOption adjusts the query parameters of a single request.
type RequestOption func(url.Values)

// WithDisplayValue sets sysparm_display_value ("true", "false" or "all").
func WithDisplayValue(mode string) RequestOption {
	return func(p url.Values) {
		if mode != "" {
			p.Set("sysparm_display_value", mode)
		}
	}
}

// WithFields restricts the returned columns on insert and update responses.
func WithFields(fields []string) RequestOption {
	return func(p url.Values) {
		if len(fields) > 0 {
			p.Set("sysparm_fields", strings.Join(fields, ","))
		}
	}
}

// httpClient is the concrete implementation of the Client interface.
type httpClient struct {
	baseURL      string
	tableAPIPath string
	auth         Authenticator
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger

	// Retry configuration
	maxRetries         int
	initialBackoff     time.Duration
	maxBackoff         time.Duration
	retryBackoffFactor float64
}

// ClientOption is a functional option for configuring the HTTP client.
type ClientOption func(*httpClient)

// WithRateLimiter sets a client-side rate limiter.
func WithRateLimiter(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

// WithBackoff overrides the initial and maximum retry backoff.
func WithBackoff(initial, max time.Duration) ClientOption {
	return func(c *httpClient) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// NewClient creates a new ServiceNow HTTP client.
//
// The client uses the provided Authenticator for all requests. The caller is
// responsible for calling Close() on both the client and the authenticator
// when they are no longer needed.
func NewClient(cfg config.ServiceNowConfig, auth Authenticator, logger *slog.Logger, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tableAPIPath: cfg.TableAPIPath,
		auth:         auth,
		logger:       logger.With("component", "sn-client"),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},

		// Retry defaults
		maxRetries:         cfg.MaxRetries,
		initialBackoff:     100 * time.Millisecond,
		maxBackoff:         5 * time.Minute,
		retryBackoffFactor: 2.0,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Close releases resources. Currently a no-op but included for interface
// compliance.
func (c *httpClient) Close() {}

// GetRecords queries a ServiceNow table using the Table API.
//
//	GET {baseURL}/api/now/table/{table}?sysparm_query=...&sysparm_limit=...
//
// The response JSON has the structure: {"result": [{...}, {...}, ...]}
func (c *httpClient) GetRecords(ctx context.Context, table string, query *QueryBuilder, offset int, limit int, fields []string, opts ...RequestOption) ([]Record, error) {
	if query == nil {
		return nil, fmt.Errorf("query must not be nil; use NewQueryBuilder() for an empty query")
	}

	params := url.Values{}
	params.Set("sysparm_exclude_reference_link", "true")
	if offset >= 0 {
		params.Set("sysparm_offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		params.Set("sysparm_limit", strconv.Itoa(limit))
	}
	if q := query.Build(); q != "" {
		params.Set("sysparm_query", q)
	}
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	for _, opt := range opts {
		opt(params)
	}

	reqURL, err := c.buildTableURL(table, "", params)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetching records",
		"table", table,
		"url", reqURL,
		"query", query.Build(),
	)

	body, err := c.doWithRetry(ctx, http.MethodGet, table, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var resp TableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w (body: %.200s)", err, string(body))
	}

	return resp.Result, nil
}

// GetRecord reads a single record.
//
//	GET {baseURL}/api/now/table/{table}/{sys_id}
//
// The response JSON has the structure: {"result": {...}}
func (c *httpClient) GetRecord(ctx context.Context, table string, sysID string, fields []string, opts ...RequestOption) (Record, error) {
	params := url.Values{}
	params.Set("sysparm_exclude_reference_link", "true")
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	for _, opt := range opts {
		opt(params)
	}

	reqURL, err := c.buildTableURL(table, sysID, params)
	if err != nil {
		return nil, err
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, table, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result Record `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing get response: %w", err)
	}
	return resp.Result, nil
}

// InsertRecord creates a new record via POST to the Table API.
//
//	POST {baseURL}/api/now/table/{table}
//	Body: JSON record
//
// Returns the created record from the response, which includes the sys_id
// assigned by ServiceNow.
func (c *httpClient) InsertRecord(ctx context.Context, table string, record Record, opts ...RequestOption) (*Record, error) {
	return c.write(ctx, http.MethodPost, table, "", record, opts)
}

// UpdateRecord updates an existing record via PATCH to the Table API.
//
//	PATCH {baseURL}/api/now/table/{table}/{sys_id}
//	Body: JSON record (partial update)
func (c *httpClient) UpdateRecord(ctx context.Context, table string, sysID string, record Record, opts ...RequestOption) (*Record, error) {
	if sysID == "" {
		return nil, fmt.Errorf("sys_id must not be empty for update")
	}
	return c.write(ctx, http.MethodPatch, table, sysID, record, opts)
}

func (c *httpClient) write(ctx context.Context, method, table, sysID string, record Record, opts []RequestOption) (*Record, error) {
	params := url.Values{}
	params.Set("sysparm_exclude_reference_link", "true")
	for _, opt := range opts {
		opt(params)
	}

	reqURL, err := c.buildTableURL(table, sysID, params)
	if err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	body, err := c.doWithRetry(ctx, method, table, reqURL, jsonBody)
	if err != nil {
		return nil, err
	}

	// Parse the single-record response: {"result": {...}}
	var resp struct {
		Result Record `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", strings.ToLower(method), err)
	}
	return &resp.Result, nil
}

// buildTableURL constructs the full request URL for a Table API call.
// All values are properly URL-encoded using net/url.
func (c *httpClient) buildTableURL(table, sysID string, params url.Values) (string, error) {
	path := c.baseURL + c.tableAPIPath + "/" + strings.TrimLeft(table, "/")
	if sysID != "" {
		path += "/" + url.PathEscape(sysID)
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("building URL: %w", err)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// doWithRetry executes an HTTP request with the configured retry strategy.
//
// The retry loop works as follows:
//
//  1. Wait for rate limiter (if configured)
//  2. Build a fresh request and attach the current auth token
//  3. Send the request
//  4. On success: return the response body
//  5. On 401: call ForceRefresh once and retry immediately; a second 401 is fatal
//  6. On 429: sleep for Retry-After seconds, retry
//  7. On 5xx or network error: exponential backoff with jitter (not for POST)
//  8. On 4xx (other): return *APIError immediately (non-retryable)
//
// The table name is used as the metrics endpoint label so that sys_ids do
// not leak into label cardinality.
func (c *httpClient) doWithRetry(ctx context.Context, method, table, reqURL string, payload []byte) ([]byte, error) {
	backoff := c.initialBackoff
	maxAttempts := c.maxRetries
	if maxAttempts < 0 {
		maxAttempts = math.MaxInt32 // unlimited
	}
	replayable := method != http.MethodPost
	refreshed := false

	var lastErr error
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		// Check context before each attempt.
		if err := ctx.Err(); err != nil {
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "context_canceled").Inc()
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		// Apply rate limiting if configured.
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "rate_limited").Inc()
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		// Get the current auth token.
		token, err := c.auth.Token(ctx)
		if err != nil {
			lastErr = fmt.Errorf("getting auth token: %w", err)
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "auth").Inc()
			continue
		}

		// A new request per attempt so the body reader is never reused.
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating %s request: %w", method, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set(c.auth.Header(), token)

		requestStart := time.Now()
		resp, err := c.http.Do(req)
		observability.Metrics.SNAPIRequestsTotal.WithLabelValues(method, table).Inc()
		observability.Metrics.SNAPILatency.WithLabelValues(method, table).Observe(time.Since(requestStart).Seconds())
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "network").Inc()
			if !replayable || ctx.Err() != nil {
				return nil, lastErr
			}
			c.logger.Warn("request failed, will retry",
				"attempt", attempt+1,
				"error", err,
				"backoff", backoff,
			)
			c.sleepWithJitter(ctx, backoff)
			backoff = c.nextBackoff(backoff)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response body: %w", readErr)
			if !replayable {
				return nil, lastErr
			}
			c.sleepWithJitter(ctx, backoff)
			backoff = c.nextBackoff(backoff)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized:
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "401").Inc()
			apiErr := newAPIError(resp.StatusCode, method, table, body)
			if refreshed {
				return nil, apiErr
			}
			// Force a token refresh and retry immediately, once.
			c.logger.Info("received 401, forcing token refresh",
				"attempt", attempt+1,
			)
			if refreshErr := c.auth.ForceRefresh(ctx); refreshErr != nil {
				c.logger.Error("token refresh failed", "error", refreshErr)
				return nil, apiErr
			}
			refreshed = true
			lastErr = apiErr
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			// Rate limited: respect Retry-After header.
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.logger.Warn("received 429, respecting Retry-After",
				"retry_after", retryAfter,
				"attempt", attempt+1,
			)
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "429").Inc()
			lastErr = newAPIError(resp.StatusCode, method, table, body)
			c.sleepWithJitter(ctx, retryAfter)
			continue

		case resp.StatusCode >= 500:
			apiErr := newAPIError(resp.StatusCode, method, table, body)
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
			if !replayable {
				return nil, apiErr
			}
			lastErr = apiErr
			c.logger.Warn("server error, will retry",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"backoff", backoff,
			)
			c.sleepWithJitter(ctx, backoff)
			backoff = c.nextBackoff(backoff)
			continue

		default:
			// 4xx (non-401, non-429): fatal, do not retry.
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
			return nil, newAPIError(resp.StatusCode, method, table, body)
		}
	}

	return nil, fmt.Errorf("exhausted %d retries: %w", maxAttempts, lastErr)
}

// nextBackoff calculates the next backoff duration using exponential growth
// capped at maxBackoff.
func (c *httpClient) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.retryBackoffFactor)
	if next > c.maxBackoff {
		return c.maxBackoff
	}
	return next
}

// sleepWithJitter sleeps for a random duration between 50% and 100% of the
// given base duration. Returns early if the context is cancelled.
func (c *httpClient) sleepWithJitter(ctx context.Context, base time.Duration) {
	// Jitter: sleep for [0.5*base, base]
	jitter := time.Duration(float64(base) * (0.5 + rand.Float64()*0.5))
	select {
	case <-ctx.Done():
	case <-time.After(jitter):
	}
}

// parseRetryAfter parses the Retry-After header value as seconds.
// Returns a default of 30 seconds if the header is empty or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 30 * time.Second
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// truncateBody returns the first 500 bytes of a response body for logging.
func truncateBody(body []byte) string {
	if len(body) > 500 {
		return string(body[:500]) + "..."
	}
	return string(body)
}
