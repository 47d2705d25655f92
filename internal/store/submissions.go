package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Submission statuses. INITIATED, UPLOADED and COMPLETED form the normal
// lifecycle; FAILED is reachable only through the administrative
// override.
const (
	StatusInitiated = "INITIATED"
	StatusUploaded  = "UPLOADED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Submission is one user-initiated batch of data. The id is immutable
// once created.
type Submission struct {
	ID          string
	AccountID   string
	Status      string
	InitiatedAt time.Time
	UploadedAt  time.Time
	CompletedAt time.Time
	UploadPath  string
}

// CreateSubmission inserts a new submission row.
func (s *Store) CreateSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, account_id, status, initiated_at, upload_path)
		 VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.AccountID, sub.Status, sub.InitiatedAt.UnixNano(), nullString(sub.UploadPath))
	if err != nil {
		return fmt.Errorf("store: inserting submission %s: %w", sub.ID, err)
	}

	return nil
}

// Submission loads one submission by id. Returns ErrNotFound when the id
// does not exist.
func (s *Store) Submission(ctx context.Context, id string) (*Submission, error) {
	var (
		sub         Submission
		initiatedAt int64
		uploadedAt  sql.NullInt64
		completedAt sql.NullInt64
		uploadPath  sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, status, initiated_at, uploaded_at, completed_at, upload_path
		 FROM submissions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.AccountID, &sub.Status, &initiatedAt, &uploadedAt, &completedAt, &uploadPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading submission %s: %w", id, err)
	}

	sub.InitiatedAt = time.Unix(0, initiatedAt)
	sub.UploadedAt = timeOf(uploadedAt)
	sub.CompletedAt = timeOf(completedAt)
	sub.UploadPath = uploadPath.String

	return &sub, nil
}

// MarkUploaded transitions INITIATED → UPLOADED, stamps uploaded_at, and
// stores the metadata document, all in one transaction. A guarded UPDATE
// enforces the transition: zero rows affected means the submission is
// missing or not in INITIATED, and the whole transaction rolls back.
func (s *Store) MarkUploaded(ctx context.Context, id, metadata string) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark uploaded %s: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = ?, uploaded_at = ?
		 WHERE id = ? AND status = ?`,
		StatusUploaded, now.UnixNano(), id, StatusInitiated)
	if err != nil {
		return fmt.Errorf("store: mark uploaded %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark uploaded %s rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s is not %s", ErrInvalidTransition, id, StatusInitiated)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submission_metadata (submission_id, document, stored_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (submission_id) DO UPDATE SET document = excluded.document, stored_at = excluded.stored_at`,
		id, metadata, now.UnixNano())
	if err != nil {
		return fmt.Errorf("store: storing metadata for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit mark uploaded %s: %w", id, err)
	}

	return nil
}

// MarkCompleted transitions UPLOADED → COMPLETED and stamps completed_at.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		StatusCompleted, s.now().UnixNano(), id, StatusUploaded)
	if err != nil {
		return fmt.Errorf("store: mark completed %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark completed %s rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s is not %s", ErrInvalidTransition, id, StatusUploaded)
	}

	return nil
}

// SetStatus overwrites the status unconditionally. This backs the
// administrative override and deliberately bypasses the transition
// guards. Returns ErrNotFound for an unknown id.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set status %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set status %s rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}

	return nil
}

// SetUploadPath records the remote directory provisioned for the
// submission.
func (s *Store) SetUploadPath(ctx context.Context, id, path string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET upload_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("store: set upload path %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set upload path %s rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}

	return nil
}

// Metadata returns the stored metadata document for a submission, or
// ErrNotFound when none was stored.
func (s *Store) Metadata(ctx context.Context, id string) (string, error) {
	var doc string

	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM submission_metadata WHERE submission_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: metadata for submission %s", ErrNotFound, id)
	}

	if err != nil {
		return "", fmt.Errorf("store: loading metadata for %s: %w", id, err)
	}

	return doc, nil
}
