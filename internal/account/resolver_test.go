package account

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore captures upserts in memory.
type recordingStore struct {
	accounts []Account
}

func (s *recordingStore) UpsertAccount(_ context.Context, a Account) error {
	s.accounts = append(s.accounts, a)

	return nil
}

func twoProviders(aURL, bURL string) []Provider {
	return []Provider{
		{
			LoginType:      "webin",
			UserinfoURL:    aURL,
			UserIDField:    "id",
			FirstNameField: "firstName",
			LastNameField:  "lastName",
			EmailField:     "emailAddress",
		},
		{
			LoginType:           "lsaai",
			UserinfoURL:         bURL,
			UserIDField:         "sub",
			FirstNameField:      "given_name",
			LastNameField:       "family_name",
			EmailField:          "email",
			SecondaryEmailField: "secondary_email",
		},
	}
}

func TestDeterministicID_StableAcrossInputs(t *testing.T) {
	first := DeterministicID("user-1", "webin")
	second := DeterministicID("user-1", "webin")
	assert.Equal(t, first, second)

	// Different user or login type must land elsewhere.
	assert.NotEqual(t, first, DeterministicID("user-2", "webin"))
	assert.NotEqual(t, first, DeterministicID("user-1", "lsaai"))
}

func TestResolve_FirstProviderWins(t *testing.T) {
	providerA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"webin-42","firstName":"Ada","lastName":"Lovelace","emailAddress":"ada@example.org"}`))
	}))
	defer providerA.Close()

	providerB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("provider B must not be consulted when provider A yields an identity")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer providerB.Close()

	store := &recordingStore{}
	r := NewResolver(twoProviders(providerA.URL, providerB.URL), http.DefaultClient, store, slog.Default())

	acct, err := r.Resolve(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "webin-42", acct.UserID)
	assert.Equal(t, "webin", acct.LoginType)
	assert.Equal(t, "Ada", acct.FirstName)
	assert.Equal(t, "ada@example.org", acct.Email)
	assert.Equal(t, DeterministicID("webin-42", "webin"), acct.ID)

	require.Len(t, store.accounts, 1)
	assert.Equal(t, acct.ID, store.accounts[0].ID)
}

func TestResolve_FallsBackToSecondProvider(t *testing.T) {
	providerA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer providerA.Close()

	providerB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sub":"ls-7","given_name":"Grace","family_name":"Hopper","email":"grace@example.org","secondary_email":"gh@backup.example.org"}`))
	}))
	defer providerB.Close()

	store := &recordingStore{}
	r := NewResolver(twoProviders(providerA.URL, providerB.URL), http.DefaultClient, store, slog.Default())

	acct, err := r.Resolve(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "lsaai", acct.LoginType)
	assert.Equal(t, "ls-7", acct.UserID)
	assert.Equal(t, "gh@backup.example.org", acct.SecondaryEmail)
}

func TestResolve_MissingUserIDFieldYieldsToNext(t *testing.T) {
	// Provider A answers 200 but without the id field — still no identity.
	providerA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"firstName":"Nobody"}`))
	}))
	defer providerA.Close()

	providerB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sub":"ls-9"}`))
	}))
	defer providerB.Close()

	store := &recordingStore{}
	r := NewResolver(twoProviders(providerA.URL, providerB.URL), http.DefaultClient, store, slog.Default())

	acct, err := r.Resolve(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "ls-9", acct.UserID)
	// Names and emails missing from the userinfo document stay empty.
	assert.Empty(t, acct.FirstName)
	assert.Empty(t, acct.Email)
}

func TestResolve_NoProviderRecognizesToken(t *testing.T) {
	deny := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer deny.Close()

	store := &recordingStore{}
	r := NewResolver(twoProviders(deny.URL, deny.URL), http.DefaultClient, store, slog.Default())

	_, err := r.Resolve(context.Background(), "bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, store.accounts)
}

func TestResolve_RepeatedResolutionIsIdempotent(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"webin-42","firstName":"Ada","lastName":"L","emailAddress":"ada@example.org"}`))
	}))
	defer provider.Close()

	store := &recordingStore{}
	r := NewResolver(twoProviders(provider.URL, provider.URL), http.DefaultClient, store, slog.Default())

	first, err := r.Resolve(context.Background(), "user-token")
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), "user-token")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, store.accounts, 2)
	assert.Equal(t, store.accounts[0].ID, store.accounts[1].ID, "upserts must target the same row")
}
