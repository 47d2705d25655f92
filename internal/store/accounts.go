package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
)

// UpsertAccount inserts or refreshes a resolved account by its
// deterministic id. Names and emails are overwritten with the latest
// values from the identity provider; the id never changes.
func (s *Store) UpsertAccount(ctx context.Context, a account.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_accounts (id, user_id, login_type, first_name, last_name, email, secondary_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			secondary_email = excluded.secondary_email`,
		a.ID, a.UserID, a.LoginType,
		nullString(a.FirstName), nullString(a.LastName),
		nullString(a.Email), nullString(a.SecondaryEmail))
	if err != nil {
		return fmt.Errorf("store: upserting account %s: %w", a.ID, err)
	}

	return nil
}

// Account loads one account by its deterministic id.
func (s *Store) Account(ctx context.Context, id string) (*account.Account, error) {
	var (
		a                                          account.Account
		firstName, lastName, email, secondaryEmail sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, login_type, first_name, last_name, email, secondary_email
		 FROM submission_accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.LoginType, &firstName, &lastName, &email, &secondaryEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading account %s: %w", id, err)
	}

	a.FirstName = firstName.String
	a.LastName = lastName.String
	a.Email = email.String
	a.SecondaryEmail = secondaryEmail.String

	return &a, nil
}
