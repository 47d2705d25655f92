package schemas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

// SourceClient talks to the source-hosting API that publishes schema
// releases: a tag-listing endpoint and raw content addressed by tag and
// file path.
type SourceClient struct {
	baseURL string
	client  *upstream.Client
	logger  *slog.Logger
}

// NewSourceClient creates a SourceClient with the uniform retry-all
// fetch policy.
func NewSourceClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *SourceClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &SourceClient{
		baseURL: baseURL,
		client:  upstream.NewRetryAllClient(baseURL, httpClient, nil, logger),
		logger:  logger,
	}
}

// Tag is one published schema release.
type Tag struct {
	Name string `json:"name"`
}

// Tags lists the published release tags, newest first as served.
func (s *SourceClient) Tags(ctx context.Context) ([]Tag, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, "/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("schemas: listing tags: %w", err)
	}
	defer resp.Body.Close()

	var tags []Tag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("schemas: decoding tag list: %w", err)
	}

	s.logger.Debug("listed schema tags", slog.Int("count", len(tags)))

	return tags, nil
}

// ContentURL builds the raw-content URL for a file at a given tag. The
// result is the cache key for that document.
func (s *SourceClient) ContentURL(tag, path string) string {
	return fmt.Sprintf("%s/raw/%s/%s", s.baseURL, url.PathEscape(tag), path)
}

// Client exposes the underlying retry-all client for the content cache.
func (s *SourceClient) Client() *upstream.Client {
	return s.client
}
