package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrCredentials is returned when the credential service rejects the
// configured account outright. This is a configuration error, not a
// transient one — retrying with the same secret cannot succeed.
var ErrCredentials = errors.New("token: credential service rejected configured account")

// maxTokenResponse bounds the response body read from the credential
// service.
const maxTokenResponse = 1 << 20

// Refresher exchanges the configured service account credentials for a
// fresh storage-backend bearer token. It performs exactly one request per
// call; retry cadence belongs to the Cache (next tick or next read).
type Refresher struct {
	endpoint   string
	username   string
	password   string
	lifetime   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRefresher creates a Refresher. lifetime is the token's known
// external validity, used to stamp Expiry on the returned token.
func NewRefresher(endpoint, username, password string, lifetime time.Duration, httpClient *http.Client, logger *slog.Logger) *Refresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		endpoint:   endpoint,
		username:   username,
		password:   password,
		lifetime:   lifetime,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Refresh obtains a new token. The credential service returns the signed
// token as the raw response body.
func (r *Refresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": r.username,
		"password": r.password,
	})
	if err != nil {
		return nil, fmt.Errorf("token: encoding credential request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("token: creating credential request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token: credential request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("token: reading credential response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		r.logger.Error("credential service rejected service account",
			slog.Int("status", resp.StatusCode),
		)

		return nil, fmt.Errorf("%w: HTTP %d", ErrCredentials, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("token: credential service HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	access := strings.TrimSpace(string(raw))
	if access == "" {
		return nil, fmt.Errorf("token: credential service returned empty token")
	}

	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(r.lifetime),
	}, nil
}
