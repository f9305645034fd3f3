// Package api provides the HTTP client for the stockdesk backend. Every
// request passes through one pipeline: credential headers are attached on
// the way out; failures are classified, retried, or escalated on the way in.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/session"
	"github.com/stockdesk/stockdesk-cli/internal/version"
)

const (
	maxRetries = 3
	baseDelay  = 500 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
)

// Client is the authenticated HTTP client for the stockdesk API.
type Client struct {
	httpClient *http.Client
	sess       *session.Manager
	baseURL    string
	logger     *slog.Logger
	retryBase  time.Duration
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// NewClient creates a new API client. The http.Client should share its
// cookie jar with the session manager so the refresh cookie flows.
func NewClient(baseURL string, sess *session.Manager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		sess:       sess,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		retryBase:  baseDelay,
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doRequest(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doRequest(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.doRequest(ctx, http.MethodDelete, path, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := c.baseURL + path

	var lastErr error
	authRetried := false

	for attempt := 1; ; attempt++ {
		resp, err := c.singleRequest(ctx, method, url, body, attempt)
		if err == nil {
			return resp, nil
		}

		apiErr := output.AsError(err)

		// One recovery cycle per request: a 401 triggers the refresh
		// coordinator and a single replay with the renewed header. A second
		// 401, or a failed refresh, escalates to session termination.
		if apiErr.Code == output.CodeAuth && apiErr.HTTPStatus == http.StatusUnauthorized {
			if !authRetried {
				authRetried = true
				if _, refreshErr := c.sess.Refresh(ctx); refreshErr == nil {
					c.logger.Debug("token refreshed, replaying request", "method", method, "path", path)
					continue
				}
			}
			c.sess.Terminate(ctx)
			return nil, output.ErrAuth("Session expired")
		}

		if !apiErr.Retryable {
			return nil, err
		}
		lastErr = err

		if attempt > maxRetries {
			// Retries exhausted: surface the last classified error unchanged.
			return nil, lastErr
		}

		delay := c.backoffDelay(attempt)
		c.logger.Debug("retrying request", "method", method, "path", path,
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) singleRequest(ctx context.Context, method, url string, body any, attempt int) (*Response, error) {
	// Bodies are marshaled per attempt so replays are byte-identical.
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = strings.NewReader(string(bodyBytes))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	// Header attachment reads the store and never waits on a refresh.
	snap := c.sess.Store().Snapshot()
	if snap.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+snap.AccessToken)
	}
	if snap.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", snap.CSRFToken)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	c.logger.Debug("request", "method", method, "url", url, "attempt", attempt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("response", "status", resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return &Response{
			Data:       respBody,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}, nil

	case resp.StatusCode == http.StatusBadRequest:
		// Server-side validation detail travels to the caller verbatim.
		detail, _ := io.ReadAll(resp.Body)
		return nil, output.ErrValidation("Invalid request payload", detail)

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, output.ErrAuth("Authentication failed")

	case resp.StatusCode == http.StatusForbidden:
		// Permission revocation cannot be repaired by refreshing a token.
		c.sess.Terminate(ctx)
		return nil, output.ErrForbidden("Access denied")

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, output.ErrRateLimit(retryAfter)

	case resp.StatusCode >= 500:
		return nil, output.ErrServer(resp.StatusCode, fmt.Sprintf("Server error (%d)", resp.StatusCode))

	default:
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
			if msg != "" {
				return nil, output.ErrUnknown(resp.StatusCode, msg)
			}
		}
		return nil, output.ErrUnknown(resp.StatusCode, fmt.Sprintf("Request failed (HTTP %d)", resp.StatusCode))
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1). Jitter stays below the
	// inter-step gap so successive delays are strictly increasing.
	delay := c.retryBase * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(maxJitter))) //nolint:gosec // G404: Jitter doesn't need crypto rand
	return delay + jitter
}

// parseRetryAfter parses the Retry-After header value.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}
