// Package provision creates submission directories on the remote storage
// backend. Creation walks the path prefix by prefix so repeated or
// partially-completed invocations are idempotent: every prefix that
// already exists is skipped, and a retry after a partial failure resumes
// where the previous attempt stopped.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

// Provisioner drives the remote storage backend's listing and directory
// creation endpoints. Every call is authenticated with the shared token
// cache via the upstream client's TokenSource.
type Provisioner struct {
	client *upstream.Client
	logger *slog.Logger
}

// NewProvisioner creates a Provisioner against the storage backend base
// URL. token is the shared token cache.
func NewProvisioner(baseURL string, httpClient *http.Client, token upstream.TokenSource, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioner{
		client: upstream.NewClient(baseURL, httpClient, token, logger),
		logger: logger,
	}
}

// createDirRequest is the storage backend's create-directory JSON body.
type createDirRequest struct {
	Path string `json:"path"`
}

// CreateSubmissionDirectory ensures every prefix of path exists on the
// storage backend, shortest first. A listing call checks each prefix; a
// create call is issued only when the check indicates absence.
func (p *Provisioner) CreateSubmissionDirectory(ctx context.Context, path string) error {
	cleaned := strings.Trim(path, "/")
	if cleaned == "" {
		return fmt.Errorf("provision: empty directory path")
	}

	segments := strings.Split(cleaned, "/")
	builtPath := ""

	for _, seg := range segments {
		if builtPath == "" {
			builtPath = seg
		} else {
			builtPath = builtPath + "/" + seg
		}

		exists, err := p.exists(ctx, builtPath)
		if err != nil {
			return err
		}

		if exists {
			p.logger.Debug("directory prefix already present",
				slog.String("path", builtPath),
			)

			continue
		}

		if err := p.create(ctx, builtPath); err != nil {
			return err
		}
	}

	p.logger.Info("submission directory provisioned", slog.String("path", cleaned))

	return nil
}

// exists performs the listing call for one prefix.
func (p *Provisioner) exists(ctx context.Context, dirPath string) (bool, error) {
	resp, err := p.client.Do(ctx, http.MethodGet, "/directories?path="+url.QueryEscape(dirPath), nil)
	if errors.Is(err, upstream.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("provision: listing %q: %w", dirPath, err)
	}

	resp.Body.Close()

	return true, nil
}

// create issues the create call for one prefix. A conflict means another
// writer created it between the check and the create, which is fine.
func (p *Provisioner) create(ctx context.Context, dirPath string) error {
	body, err := json.Marshal(createDirRequest{Path: dirPath})
	if err != nil {
		return fmt.Errorf("provision: encoding create request for %q: %w", dirPath, err)
	}

	resp, err := p.client.Do(ctx, http.MethodPost, "/directories", bytes.NewReader(body))
	if errors.Is(err, upstream.ErrConflict) {
		p.logger.Debug("directory created concurrently", slog.String("path", dirPath))

		return nil
	}

	if err != nil {
		return fmt.Errorf("provision: creating %q: %w", dirPath, err)
	}

	resp.Body.Close()

	p.logger.Debug("directory created", slog.String("path", dirPath))

	return nil
}
