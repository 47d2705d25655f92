// Package schemas fetches submission schema content and project metadata
// from the source-hosting and project registry APIs, caching schema
// content by source URL until a full-cache eviction.
package schemas

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

// maxContentSize bounds a single cached schema document.
const maxContentSize = 8 << 20

// Cache holds fetched schema content keyed by source URL. There is no
// per-key expiry: eviction always clears every entry, either on the
// scheduled interval or through an administrative Flush. The same
// single-flight discipline as the token cache applies, so concurrent
// misses for one URL share one upstream fetch.
type Cache struct {
	client   *upstream.Client
	interval time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]string
}

// NewCache creates a Cache around a retry-all upstream client. interval
// is the scheduled full-flush period.
func NewCache(client *upstream.Client, interval time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		client:   client,
		interval: interval,
		logger:   logger,
		entries:  make(map[string]string),
	}
}

// Content returns the schema document at url, fetching it through the
// retry-wrapped upstream call on first use and from memory afterwards.
func (c *Cache) Content(ctx context.Context, url string) (string, error) {
	c.mu.RLock()
	content, ok := c.entries[url]
	c.mu.RUnlock()

	if ok {
		return content, nil
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		// Another caller may have filled the entry while this one waited
		// on the flight.
		c.mu.RLock()
		cached, hit := c.entries[url]
		c.mu.RUnlock()

		if hit {
			return cached, nil
		}

		fetched, fetchErr := c.fetch(ctx, url)
		if fetchErr != nil {
			return nil, fetchErr
		}

		c.mu.Lock()
		c.entries[url] = fetched
		c.mu.Unlock()

		return fetched, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// fetch performs the retry-wrapped upstream call.
func (c *Cache) fetch(ctx context.Context, url string) (string, error) {
	resp, err := c.client.DoURL(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("schemas: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSize))
	if err != nil {
		return "", fmt.Errorf("schemas: reading %s: %w", url, err)
	}

	c.logger.Info("schema content fetched",
		slog.String("url", url),
		slog.Int("bytes", len(body)),
	)

	return string(body), nil
}

// Flush drops every cached entry. The next Content call per URL goes
// back to the upstream.
func (c *Cache) Flush() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]string)
	c.mu.Unlock()

	c.logger.Info("schema cache flushed", slog.Int("evicted", n))
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Run flushes the cache on the configured interval until ctx is
// canceled.
func (c *Cache) Run(ctx context.Context) {
	c.logger.Info("schema cache eviction loop starting",
		slog.Duration("interval", c.interval),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("schema cache eviction loop stopping")

			return
		case <-ticker.C:
			c.Flush()
		}
	}
}
