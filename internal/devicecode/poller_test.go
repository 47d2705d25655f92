package devicecode

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a Client against the given server with a fake
// clock: every sleep advances the clock by the requested duration without
// actually waiting.
func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()

	c := NewClient(srvURL+"/device", srvURL+"/token", "test-client", "openid", http.DefaultClient, slog.Default())

	var mu sync.Mutex

	now := time.Unix(1700000000, 0)

	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)

		return nil
	}

	return c
}

func TestBegin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/device", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.Form.Get("client_id"))
		assert.Equal(t, "openid", r.Form.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"device_code": "dev-123",
			"user_code": "ABCD-EFGH",
			"verification_uri": "https://idp.example.org/device",
			"expires_in": 600,
			"interval": 5
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	da, err := client.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-123", da.DeviceCode)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.Equal(t, "https://idp.example.org/device", da.VerificationURI)
}

func TestBegin_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Begin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestPollForToken_ApprovedAfterPending(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-123", r.Form.Get("device_code"))
		assert.Equal(t, deviceGrantType, r.Form.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")

		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))

			return
		}

		_, _ = w.Write([]byte(`{"access_token":"user-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	tok, err := client.PollForToken(context.Background(), "dev-123", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok.AccessToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollForToken_TerminalErrorAbortsImmediately(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"access_denied","error_description":"user refused"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.PollForToken(context.Background(), "dev-123", 2*time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Equal(t, int32(1), calls.Load(), "terminal errors must not be retried")
}

func TestPollForToken_TimeoutBound(t *testing.T) {
	// An upstream that always reports pending: with maxWait = E the poll
	// must fail after ~E elapsed having made floor(E/5s) attempts.
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		maxWait  time.Duration
		attempts int32
	}{
		{"60s budget", 60 * time.Second, 12},
		{"12s budget", 12 * time.Second, 2},
		{"5s budget", 5 * time.Second, 1},
		{"4s budget", 4 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls.Store(0)
			client := newTestClient(t, srv.URL)

			_, err := client.PollForToken(context.Background(), "dev-123", tt.maxWait)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTimeout)
			assert.Equal(t, tt.attempts, calls.Load())
		})
	}
}

func TestPollForToken_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/device", srv.URL+"/token", "test-client", "openid", http.DefaultClient, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.PollForToken(ctx, "dev-123", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollForToken_NonJSONErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.PollForToken(context.Background(), "dev-123", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "HTTP 502")
}
