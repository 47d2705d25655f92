package schemas

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

// maxMetadataBody bounds a project registry response read.
const maxMetadataBody = 4 << 20

// ProjectMetadata is the set of fields extracted from a registry project
// document. Each field is looked up independently; a missing node leaves
// that field empty without disturbing the others.
type ProjectMetadata struct {
	Title       string
	Description string
	Centre      string
	TaxonomyID  string
}

// metadataPaths maps each ProjectMetadata field to its path query in the
// registry document.
var metadataPaths = struct {
	title, description, centre, taxonomy string
}{
	title:       "project.title",
	description: "project.description",
	centre:      "project.centerName",
	taxonomy:    "project.taxonomyId",
}

// ExtractProjectMetadata pulls the fields of interest out of a registry
// project document. Extraction never fails: absent paths degrade to
// empty strings per field.
func ExtractProjectMetadata(doc string) ProjectMetadata {
	return ProjectMetadata{
		Title:       gjson.Get(doc, metadataPaths.title).String(),
		Description: gjson.Get(doc, metadataPaths.description).String(),
		Centre:      gjson.Get(doc, metadataPaths.centre).String(),
		TaxonomyID:  gjson.Get(doc, metadataPaths.taxonomy).String(),
	}
}

// RegistryClient fetches project documents from the project registry API
// with the uniform retry-all policy.
type RegistryClient struct {
	client *upstream.Client
	logger *slog.Logger
}

// NewRegistryClient creates a RegistryClient for the given registry base
// URL.
func NewRegistryClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *RegistryClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &RegistryClient{
		client: upstream.NewRetryAllClient(baseURL, httpClient, nil, logger),
		logger: logger,
	}
}

// ProjectMetadata fetches the project document for accession and extracts
// the metadata fields. A fetch whose retry budget is exhausted surfaces
// the upstream failure; a document with missing fields does not.
func (r *RegistryClient) ProjectMetadata(ctx context.Context, accession string) (ProjectMetadata, error) {
	resp, err := r.client.Do(ctx, http.MethodGet, "/projects/"+accession, nil)
	if err != nil {
		return ProjectMetadata{}, fmt.Errorf("schemas: fetching project %s: %w", accession, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBody))
	if err != nil {
		return ProjectMetadata{}, fmt.Errorf("schemas: reading project %s: %w", accession, err)
	}

	meta := ExtractProjectMetadata(string(body))

	r.logger.Debug("project metadata extracted",
		slog.String("accession", accession),
		slog.String("title", meta.Title),
	)

	return meta, nil
}
