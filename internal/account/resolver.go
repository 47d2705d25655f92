// Package account turns bearer tokens into canonical submitter accounts.
// Two identity providers are consulted in a fixed order; each provider
// carries its own userinfo endpoint and JSON field names, so adding a
// provider is a table entry, not new code.
package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/upstream"
)

// ErrUnauthorized is returned when no provider recognizes the presented
// bearer token.
var ErrUnauthorized = errors.New("account: token not recognized by any identity provider")

// maxUserinfoBody bounds the userinfo response read.
const maxUserinfoBody = 1 << 20

// Provider describes one identity provider: where its userinfo endpoint
// lives and which JSON keys carry the identity fields.
type Provider struct {
	LoginType           string
	UserinfoURL         string
	UserIDField         string
	FirstNameField      string
	LastNameField       string
	EmailField          string
	SecondaryEmailField string
}

// Account is the canonical submitter identity. ID is a deterministic
// function of (UserID, LoginType), so resolving the same token twice, or
// the same user with updated names, always lands on the same account row.
type Account struct {
	ID             string
	UserID         string
	LoginType      string
	FirstName      string
	LastName       string
	Email          string
	SecondaryEmail string
}

// DeterministicID derives the account id from (userID, loginType) via a
// name-based UUID. Same inputs, same id, always.
func DeterministicID(userID, loginType string) string {
	name := "eva-submission://account/" + loginType + "/" + userID

	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Upserter persists resolved accounts. Resolution is idempotent: the
// store must insert-or-update by Account.ID.
type Upserter interface {
	UpsertAccount(ctx context.Context, a Account) error
}

// Resolver resolves bearer tokens against the provider table.
type Resolver struct {
	providers []Provider
	client    *upstream.Client
	store     Upserter
	logger    *slog.Logger
}

// NewResolver creates a Resolver. Providers are tried in slice order;
// the first to return a usable identity wins.
func NewResolver(providers []Provider, httpClient *http.Client, store Upserter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		providers: providers,
		client:    upstream.NewClient("", httpClient, nil, logger),
		store:     store,
		logger:    logger,
	}
}

// Resolve exchanges bearer for an identity and upserts the account. A
// provider that errors or returns no user id simply yields to the next
// one; only when every provider comes up empty does resolution fail with
// ErrUnauthorized.
func (r *Resolver) Resolve(ctx context.Context, bearer string) (*Account, error) {
	for _, p := range r.providers {
		acct, err := r.tryProvider(ctx, p, bearer)
		if err != nil {
			r.logger.Debug("identity provider yielded no identity",
				slog.String("login_type", p.LoginType),
				slog.String("error", err.Error()),
			)

			continue
		}

		if upsertErr := r.store.UpsertAccount(ctx, *acct); upsertErr != nil {
			return nil, fmt.Errorf("account: upserting resolved account: %w", upsertErr)
		}

		r.logger.Info("account resolved",
			slog.String("login_type", acct.LoginType),
			slog.String("account_id", acct.ID),
		)

		return acct, nil
	}

	return nil, ErrUnauthorized
}

// tryProvider performs one userinfo exchange and maps the provider's
// field names onto an Account.
func (r *Resolver) tryProvider(ctx context.Context, p Provider, bearer string) (*Account, error) {
	resp, err := r.client.DoURLWithBearer(ctx, http.MethodGet, p.UserinfoURL, nil, bearer)
	if err != nil {
		return nil, fmt.Errorf("account: userinfo exchange (%s): %w", p.LoginType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoBody))
	if err != nil {
		return nil, fmt.Errorf("account: reading userinfo response (%s): %w", p.LoginType, err)
	}

	doc := string(body)

	userID := gjson.Get(doc, p.UserIDField).String()
	if userID == "" {
		return nil, fmt.Errorf("account: userinfo response (%s) carries no %q", p.LoginType, p.UserIDField)
	}

	acct := &Account{
		ID:        DeterministicID(userID, p.LoginType),
		UserID:    userID,
		LoginType: p.LoginType,
		FirstName: gjson.Get(doc, p.FirstNameField).String(),
		LastName:  gjson.Get(doc, p.LastNameField).String(),
		Email:     gjson.Get(doc, p.EmailField).String(),
	}

	if p.SecondaryEmailField != "" {
		acct.SecondaryEmail = gjson.Get(doc, p.SecondaryEmailField).String()
	}

	return acct, nil
}
