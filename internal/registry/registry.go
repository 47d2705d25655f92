// Package registry is the submission state machine. It owns the
// lifecycle rules (which transitions exist, who may trigger them, what
// metadata an upload must carry) and delegates durability to the store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/notify"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/store"
)

var (
	// ErrNotFound means no submission with the given id exists.
	ErrNotFound = store.ErrNotFound

	// ErrValidation means the uploaded metadata is missing required
	// fields. The submission's prior state is untouched.
	ErrValidation = errors.New("registry: metadata validation failed")

	// ErrUnauthorized means the caller does not own the submission.
	ErrUnauthorized = errors.New("registry: caller does not own submission")
)

// requiredMetadataPaths are the fields an uploaded metadata document
// must carry before a submission can advance to UPLOADED.
var requiredMetadataPaths = []string{
	"project.title",
	"project.description",
	"project.taxonomyId",
}

// Registry coordinates submission lifecycle transitions.
type Registry struct {
	store    *store.Store
	notifier notify.Sender
	logger   *slog.Logger

	now func() time.Time
}

// New creates a Registry. notifier may be nil, in which case transition
// notifications are skipped.
func New(st *store.Store, notifier notify.Sender, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{store: st, notifier: notifier, logger: logger, now: time.Now}
}

// Initiate creates a new submission owned by accountID with status
// INITIATED and a fresh id.
func (r *Registry) Initiate(ctx context.Context, accountID string) (*store.Submission, error) {
	sub := store.Submission{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Status:      store.StatusInitiated,
		InitiatedAt: r.now(),
	}

	if err := r.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.Info("submission initiated",
		slog.String("submission_id", sub.ID),
		slog.String("account_id", accountID))

	return &sub, nil
}

// MarkUploaded advances a submission from INITIATED to UPLOADED and
// persists the metadata document. The caller must own the submission
// and the document must carry every required field; on any failure the
// submission's prior state is untouched.
func (r *Registry) MarkUploaded(ctx context.Context, id, accountID, metadataJSON string) error {
	sub, err := r.store.Submission(ctx, id)
	if err != nil {
		return err
	}

	if sub.AccountID != accountID {
		return fmt.Errorf("%w: submission %s", ErrUnauthorized, id)
	}

	if missing := missingMetadataFields(metadataJSON); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	if err := r.store.MarkUploaded(ctx, id, metadataJSON); err != nil {
		return err
	}

	r.logger.Info("submission uploaded", slog.String("submission_id", id))
	r.notifyTransition(ctx, sub, store.StatusUploaded)

	return nil
}

// MarkCompleted advances a submission from UPLOADED to COMPLETED.
func (r *Registry) MarkCompleted(ctx context.Context, id string) error {
	sub, err := r.store.Submission(ctx, id)
	if err != nil {
		return err
	}

	if err := r.store.MarkCompleted(ctx, id); err != nil {
		return err
	}

	r.logger.Info("submission completed", slog.String("submission_id", id))
	r.notifyTransition(ctx, sub, store.StatusCompleted)

	return nil
}

// Status returns a submission's current lifecycle status.
func (r *Registry) Status(ctx context.Context, id string) (string, error) {
	sub, err := r.store.Submission(ctx, id)
	if err != nil {
		return "", err
	}

	return sub.Status, nil
}

// Submission returns the full submission record.
func (r *Registry) Submission(ctx context.Context, id string) (*store.Submission, error) {
	return r.store.Submission(ctx, id)
}

// OverrideStatus unconditionally overwrites a submission's status,
// bypassing transition checks. Administrative use only.
func (r *Registry) OverrideStatus(ctx context.Context, id, status string) error {
	if err := r.store.SetStatus(ctx, id, status); err != nil {
		return err
	}

	r.logger.Warn("submission status overridden",
		slog.String("submission_id", id),
		slog.String("status", status))

	return nil
}

// SetUploadPath records where a submission's files are uploaded.
func (r *Registry) SetUploadPath(ctx context.Context, id, path string) error {
	return r.store.SetUploadPath(ctx, id, path)
}

// RecordProcessing upserts a per-step processing record for a
// submission.
func (r *Registry) RecordProcessing(ctx context.Context, id, step, status string, priority int) error {
	return r.store.UpsertProcessing(ctx, id, step, status, priority)
}

// IngestEvent stores a raw pipeline event document.
func (r *Registry) IngestEvent(ctx context.Context, document string) (int64, error) {
	return r.store.InsertEvent(ctx, document)
}

// notifyTransition sends a transition notification to the submission's
// owner. Failures are logged, never propagated; a lost mail must not
// roll back a committed transition.
func (r *Registry) notifyTransition(ctx context.Context, sub *store.Submission, newStatus string) {
	if r.notifier == nil {
		return
	}

	recipients := r.ownerRecipients(ctx, sub.AccountID)
	if len(recipients) == 0 {
		return
	}

	subject := fmt.Sprintf("Submission %s is now %s", sub.ID, newStatus)
	body := fmt.Sprintf("Your submission %s changed status to %s.", sub.ID, newStatus)

	if err := r.notifier.Send(ctx, recipients, subject, body); err != nil {
		r.logger.Warn("notification send failed",
			slog.String("submission_id", sub.ID),
			slog.String("status", newStatus),
			slog.Any("error", err))
	}
}

func (r *Registry) ownerRecipients(ctx context.Context, accountID string) []string {
	acct, err := r.store.Account(ctx, accountID)
	if err != nil {
		r.logger.Debug("no account for notification",
			slog.String("account_id", accountID),
			slog.Any("error", err))

		return nil
	}

	var recipients []string
	if acct.Email != "" {
		recipients = append(recipients, acct.Email)
	}

	if acct.SecondaryEmail != "" {
		recipients = append(recipients, acct.SecondaryEmail)
	}

	return recipients
}

// missingMetadataFields returns the required field paths absent from
// the document.
func missingMetadataFields(metadataJSON string) []string {
	var missing []string

	for _, path := range requiredMetadataPaths {
		if v := gjson.Get(metadataJSON, path); !v.Exists() || v.String() == "" {
			missing = append(missing, path)
		}
	}

	return missing
}
