package schemas

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProjectMetadata_AllFields(t *testing.T) {
	doc := `{
		"project": {
			"title": "Variant calling cohort",
			"description": "Whole genome variants",
			"centerName": "EVA",
			"taxonomyId": 9606
		}
	}`

	meta := ExtractProjectMetadata(doc)
	assert.Equal(t, "Variant calling cohort", meta.Title)
	assert.Equal(t, "Whole genome variants", meta.Description)
	assert.Equal(t, "EVA", meta.Centre)
	assert.Equal(t, "9606", meta.TaxonomyID)
}

func TestExtractProjectMetadata_MissingFieldsDegradeIndependently(t *testing.T) {
	doc := `{"project": {"title": "Only a title"}}`

	meta := ExtractProjectMetadata(doc)
	assert.Equal(t, "Only a title", meta.Title)
	assert.Empty(t, meta.Description)
	assert.Empty(t, meta.Centre)
	assert.Empty(t, meta.TaxonomyID)
}

func TestExtractProjectMetadata_MalformedDocument(t *testing.T) {
	meta := ExtractProjectMetadata("not json at all")
	assert.Empty(t, meta.Title)
	assert.Empty(t, meta.Description)
}

func TestRegistryClient_ProjectMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/PRJEB00001", r.URL.Path)
		_, _ = w.Write([]byte(`{"project":{"title":"Cohort","centerName":"EVA"}}`))
	}))
	defer srv.Close()

	rc := NewRegistryClient(srv.URL, http.DefaultClient, slog.Default())

	meta, err := rc.ProjectMetadata(context.Background(), "PRJEB00001")
	require.NoError(t, err)
	assert.Equal(t, "Cohort", meta.Title)
	assert.Equal(t, "EVA", meta.Centre)
	assert.Empty(t, meta.Description)
}

func TestSourceClient_Tags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tags", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name":"v1.2"},{"name":"v1.1"}]`))
	}))
	defer srv.Close()

	sc := NewSourceClient(srv.URL, http.DefaultClient, slog.Default())

	tags, err := sc.Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "v1.2", tags[0].Name)
}

func TestSourceClient_ContentURL(t *testing.T) {
	sc := NewSourceClient("https://schemas.example.org", nil, slog.Default())

	assert.Equal(t,
		"https://schemas.example.org/raw/v1.2/eva_schema.json",
		sc.ContentURL("v1.2", "eva_schema.json"),
	)
}
