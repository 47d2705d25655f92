// Package devicecode implements the OAuth2 device-authorization flow
// against the secondary identity provider. The submitter authorizes in a
// browser while this client polls the token endpoint for completion.
package devicecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// pollInterval is the fixed wait between token-endpoint polls.
const pollInterval = 5 * time.Second

// deviceGrantType is the RFC 8628 device access token grant.
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

var (
	// ErrTimeout is returned when the user has not authorized within the
	// caller's wait budget.
	ErrTimeout = errors.New("devicecode: polling timed out")

	// ErrDenied is returned when the provider reports any terminal error
	// for the device code (expired, access denied, unknown code).
	ErrDenied = errors.New("devicecode: authorization failed")
)

// Client talks to one provider's device-authorization endpoints.
// Concurrent polls for different device codes are independent; the client
// holds no per-flow state.
type Client struct {
	deviceEndpoint string
	tokenEndpoint  string
	clientID       string
	scope          string
	httpClient     *http.Client
	logger         *slog.Logger

	// sleepFunc and now are injectable so tests can run the poll loop
	// without real five-second waits.
	sleepFunc func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewClient creates a device-flow client for the given provider endpoints.
func NewClient(deviceEndpoint, tokenEndpoint, clientID, scope string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		deviceEndpoint: deviceEndpoint,
		tokenEndpoint:  tokenEndpoint,
		clientID:       clientID,
		scope:          scope,
		httpClient:     httpClient,
		logger:         logger,
		sleepFunc:      ctxSleep,
		now:            time.Now,
	}
}

// Begin requests a device code and user code from the provider. The
// caller shows UserCode and VerificationURI to the submitter and then
// polls with the returned DeviceCode.
func (c *Client) Begin(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	form := url.Values{
		"client_id": {c.clientID},
		"scope":     {c.scope},
	}

	resp, err := c.postForm(ctx, c.deviceEndpoint, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("devicecode: device authorization request: HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var da oauth2.DeviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&da); err != nil {
		return nil, fmt.Errorf("devicecode: decoding device authorization response: %w", err)
	}

	c.logger.Info("device authorization started",
		slog.String("user_code", da.UserCode),
		slog.String("verification_uri", da.VerificationURI),
	)

	return &da, nil
}

// pollOutcome is the explicit three-way result of one token-endpoint
// exchange: approved with a token, still pending, or terminally failed.
type pollOutcome struct {
	token   *oauth2.Token
	pending bool
	reason  string
}

// PollForToken exchanges the device code for a token every five seconds
// until the user approves, the provider reports a terminal error, or
// maxWait elapses. The call is synchronous: the caller is suspended for
// the whole wait.
func (c *Client) PollForToken(ctx context.Context, deviceCode string, maxWait time.Duration) (*oauth2.Token, error) {
	start := c.now()
	attempts := 0

	for {
		if err := c.sleepFunc(ctx, pollInterval); err != nil {
			return nil, fmt.Errorf("devicecode: polling canceled: %w", err)
		}

		if c.now().Sub(start) > maxWait {
			c.logger.Warn("device code polling timed out",
				slog.Duration("max_wait", maxWait),
				slog.Int("attempts", attempts),
			)

			return nil, fmt.Errorf("%w after %s (%d attempts)", ErrTimeout, maxWait, attempts)
		}

		attempts++

		outcome, err := c.pollOnce(ctx, deviceCode)
		if err != nil {
			return nil, err
		}

		switch {
		case outcome.token != nil:
			c.logger.Info("device code approved", slog.Int("attempts", attempts))

			return outcome.token, nil
		case outcome.pending:
			c.logger.Debug("device code still pending", slog.Int("attempt", attempts))
		default:
			return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.reason)
		}
	}
}

// tokenResponse is the provider's token-endpoint JSON for both the
// success and error shapes.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// pollOnce performs a single device-code exchange and classifies the
// response. Only "authorization_pending" keeps the loop alive; every
// other provider error is terminal.
func (c *Client) pollOnce(ctx context.Context, deviceCode string) (*pollOutcome, error) {
	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {c.clientID},
	}

	resp, err := c.postForm(ctx, c.tokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&tr); err != nil {
		return nil, fmt.Errorf("devicecode: decoding token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && tr.AccessToken != "":
		tok := &oauth2.Token{
			AccessToken:  tr.AccessToken,
			TokenType:    tr.TokenType,
			RefreshToken: tr.RefreshToken,
		}
		if tr.ExpiresIn > 0 {
			tok.Expiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
		}

		return &pollOutcome{token: tok}, nil
	case tr.Error == "authorization_pending":
		return &pollOutcome{pending: true}, nil
	case tr.Error != "":
		reason := tr.Error
		if tr.ErrorDescription != "" {
			reason += ": " + tr.ErrorDescription
		}

		return &pollOutcome{reason: reason}, nil
	default:
		return &pollOutcome{reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}, nil
	}
}

// postForm sends a form-encoded POST without retry; poll cadence is the
// loop's concern.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("devicecode: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devicecode: token endpoint request: %w", err)
	}

	return resp, nil
}

// ctxSleep waits for d or until ctx is canceled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
