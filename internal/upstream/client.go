package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// Retry and backoff constants. Every upstream dependency gets the same
// budget: five attempts with exponential backoff starting at two seconds
// and doubling each attempt.
const (
	maxAttempts    = 5
	baseBackoff    = 2 * time.Second
	backoffFactor  = 2.0
	maxBackoff     = 60 * time.Second
	jitterFraction = 0.25
	userAgent      = "eva-submission-ws/0.1"
)

// TokenSource provides bearer tokens for authenticated endpoints.
// Defined at the consumer per Go convention "accept interfaces, return
// structs". The token cache provides the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is a retrying HTTP client for one upstream service.
//
// Two retry policies exist. The classified policy (default) retries only
// transient statuses (408/429/5xx) and network errors, and maps terminal
// statuses to sentinel errors immediately. The retry-all policy, used for
// the project registry and source-hosting fetch endpoints, treats every
// failure as transient until the attempt budget runs out.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	retryAll   bool

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client with the classified retry policy.
// token may be nil for services that take no ambient credential.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// NewRetryAllClient creates a client that retries any failure, network or
// non-2xx alike, until the attempt budget is exhausted.
func NewRetryAllClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	c := NewClient(baseURL, httpClient, token, logger)
	c.retryAll = true

	return c
}

// Do executes an HTTP request against the service. The path is appended
// to the client's base URL. For non-nil bodies, Content-Type is set to
// application/json; bodies that implement io.Seeker are rewound before
// each retry attempt. The caller must close the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, method, c.baseURL+path, body, "")
}

// DoWithBearer is Do with an explicit per-request bearer token, used where
// the credential belongs to the caller rather than the service (userinfo
// lookups with the submitter's own token).
func (c *Client) DoWithBearer(ctx context.Context, method, path string, body io.Reader, bearer string) (*http.Response, error) {
	return c.do(ctx, method, c.baseURL+path, body, bearer)
}

// DoURL is Do against an absolute URL, bypassing the base URL. Schema
// content is cached by source URL, so the fetcher addresses it directly.
func (c *Client) DoURL(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, method, url, body, "")
}

// DoURLWithBearer combines DoURL and DoWithBearer for callers that hit
// per-provider absolute endpoints with the caller's own credential.
func (c *Client) DoURLWithBearer(ctx context.Context, method, url string, body io.Reader, bearer string) (*http.Response, error) {
	return c.do(ctx, method, url, body, bearer)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, bearer string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calcBackoff(attempt - 1)
			c.logger.Warn("retrying upstream request",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("upstream: request canceled: %w", sleepErr)
			}

			if rewindErr := rewindBody(body); rewindErr != nil {
				return nil, rewindErr
			}
		}

		resp, err := c.doOnce(ctx, method, url, body, bearer)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("upstream: request canceled: %w", ctx.Err())
			}

			lastErr = err

			continue
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("upstream request succeeded",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		upErr := &Error{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		// Terminal statuses short-circuit under the classified policy.
		if !c.retryAll && !isRetryable(resp.StatusCode) {
			return nil, upErr
		}

		lastErr = upErr
	}

	c.logger.Error("upstream request failed after retries",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("attempts", maxAttempts),
		slog.String("error", lastErr.Error()),
	)

	return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrUpstream, method, url, maxAttempts, lastErr)
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if bearer == "" && c.token != nil {
		bearer, err = c.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// rewindBody seeks a retryable request body back to the start. Non-seekable
// bodies pass through untouched; callers that need retries with a body
// should pass a bytes.Reader.
func rewindBody(body io.Reader) error {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return nil
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("upstream: rewinding request body for retry: %w", err)
	}

	return nil
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
