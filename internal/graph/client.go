package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status classifies the outcome of a single page request.
type Status int

const (
	StatusOK Status = iota
	StatusThrottled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusThrottled:
		return "throttled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchResult is the outcome of one GET. Body is set for StatusOK, RetryAfter
// for StatusThrottled (zero when the source gave no hint) and Err for
// StatusFailed.
type FetchResult struct {
	Status     Status
	Body       []byte
	RetryAfter time.Duration
	Err        error
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// TokenProvider returns a bearer token for the remote API.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider that always yields token.
func StaticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client issues page requests against the Graph API. It retries transient
// transport failures itself and reports throttling to the caller.
type Client struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.TokenProvider == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}, nil
}

// Get fetches link, which may be absolute (an @odata.nextLink) or relative to
// the base URL.
func (c *Client) Get(ctx context.Context, link string) FetchResult {
	target, err := c.resolve(link)
	if err != nil {
		return FetchResult{Status: StatusFailed, Err: err}
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return FetchResult{Status: StatusFailed, Err: fmt.Errorf("acquire token: %w", err)}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return FetchResult{Status: StatusFailed, Err: errors.New("token is empty")}
	}
	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return FetchResult{Status: StatusFailed, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("client-request-id", requestID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return FetchResult{Status: StatusFailed, Err: waitErr}
				}
				continue
			}
			return FetchResult{Status: StatusFailed, Err: err}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return FetchResult{Status: StatusFailed, Err: readErr}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return FetchResult{Status: StatusOK, Body: payload}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			return FetchResult{
				Status:     StatusThrottled,
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		case isTransientStatus(resp.StatusCode) && attempt < c.maxRetries:
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return FetchResult{Status: StatusFailed, Err: waitErr}
			}
			continue
		}
		return FetchResult{Status: StatusFailed, Err: decodeHTTPError(resp.StatusCode, payload)}
	}
}

func (c *Client) resolve(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", errors.New("empty request link")
	}
	if strings.HasPrefix(link, "https://") || strings.HasPrefix(link, "http://") {
		return link, nil
	}
	return c.baseURL + "/" + strings.TrimLeft(link, "/"), nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func isTransientStatus(code int) bool {
	return code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusGatewayTimeout
}

// Graph error bodies look like {"error":{"code":"...","message":"..."}}.
func decodeHTTPError(status int, payload []byte) *HTTPError {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	httpErr := &HTTPError{StatusCode: status}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Code != "" {
		httpErr.Code = body.Error.Code
		httpErr.Message = body.Error.Message
		return httpErr
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > 512 {
		message = message[:512]
	}
	httpErr.Message = message
	return httpErr
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date. It returns zero when the header is absent or unusable.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
