// Package token holds the single shared access token for the remote
// storage backend. The cache is process-local: it is built once at
// startup, handed to every component that talks to the storage API, and
// does not survive restart.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned by Token when no token is cached and the
// refresh that would have produced one failed.
var ErrUnavailable = errors.New("token: no token available")

// RefreshFunc obtains a new token from the credential service. The
// returned token's Expiry must be set when the external lifetime is known.
type RefreshFunc func(ctx context.Context) (*oauth2.Token, error)

// refreshKey is the singleflight key — there is exactly one token, so
// every caller joins the same flight.
const refreshKey = "refresh"

// Cache coordinates concurrent access to the shared token.
//
// Reads take only the read lock; a miss joins a singleflight refresh, so
// N concurrent cold callers produce exactly one upstream call and all
// observe its result. The flight stores under the write lock after the
// network call completes — no lock is ever held across another lock
// acquisition, which keeps the read-triggered-refresh path deadlock free.
type Cache struct {
	refresh  RefreshFunc
	interval time.Duration
	margin   time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current *oauth2.Token
	lastErr error

	// now is injectable for freshness tests.
	now func() time.Time
}

// New creates a Cache. interval is the proactive background refresh
// period; margin is how long before the token's known expiry it stops
// counting as fresh for on-demand reads.
func New(refresh RefreshFunc, interval, margin time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		refresh:  refresh,
		interval: interval,
		margin:   margin,
		logger:   logger,
		now:      time.Now,
	}
}

// Token returns the shared access token, refreshing it first if none is
// cached or the cached one is inside the expiry margin. A refresh failure
// is only an error when there is no previous token to fall back on;
// otherwise the stale token is returned and the error is left for the
// next scheduled or on-demand refresh to clear.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.current
	c.mu.RUnlock()

	if c.fresh(tok) {
		return tok.AccessToken, nil
	}

	return c.refreshShared(ctx)
}

// fresh reports whether tok can be served without a network call.
func (c *Cache) fresh(tok *oauth2.Token) bool {
	if tok == nil {
		return false
	}

	if tok.Expiry.IsZero() {
		return true
	}

	return c.now().Before(tok.Expiry.Add(-c.margin))
}

// refreshShared performs one coalesced refresh and resolves the
// stale-fallback contract for every caller that joined the flight.
func (c *Cache) refreshShared(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do(refreshKey, func() (any, error) {
		tok, refreshErr := c.refresh(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()

		if refreshErr != nil {
			c.lastErr = refreshErr

			if c.current != nil {
				c.logger.Warn("token refresh failed, serving previous token",
					slog.Time("stale_expiry", c.current.Expiry),
					slog.String("error", refreshErr.Error()),
				)

				return c.current.AccessToken, nil
			}

			return nil, fmt.Errorf("%w: %w", ErrUnavailable, refreshErr)
		}

		c.current = tok
		c.lastErr = nil

		c.logger.Info("token refreshed",
			slog.Time("expiry", tok.Expiry),
		)

		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Run refreshes the token proactively on a fixed interval until ctx is
// canceled. The first refresh happens immediately so the cache is warm
// before traffic arrives. Failures are logged and retried on the next
// tick; they never stop the loop.
func (c *Cache) Run(ctx context.Context) {
	c.logger.Info("token refresh loop starting",
		slog.Duration("interval", c.interval),
	)

	if _, err := c.refreshShared(ctx); err != nil {
		c.logger.Warn("initial token refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("token refresh loop stopping")

			return
		case <-ticker.C:
			if _, err := c.refreshShared(ctx); err != nil {
				c.logger.Warn("scheduled token refresh failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// LastError returns the most recent refresh error, or nil after a
// successful refresh. Exposed for health reporting.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastErr
}
