package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "eva.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func newSubmission(id string) Submission {
	return Submission{
		ID:          id,
		AccountID:   "acct-1",
		Status:      StatusInitiated,
		InitiatedAt: time.Now(),
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))

	sub, err := s.Submission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, sub.Status)
	assert.Equal(t, "acct-1", sub.AccountID)
	assert.True(t, sub.UploadedAt.IsZero())
	assert.True(t, sub.CompletedAt.IsZero())

	require.NoError(t, s.MarkUploaded(ctx, "sub-1", `{"project":{"title":"T"}}`))

	sub, err = s.Submission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, sub.Status)
	assert.False(t, sub.UploadedAt.IsZero())

	doc, err := s.Metadata(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, `{"project":{"title":"T"}}`, doc)

	require.NoError(t, s.MarkCompleted(ctx, "sub-1"))

	sub, err = s.Submission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sub.Status)
	assert.False(t, sub.CompletedAt.IsZero())
}

func TestSubmissionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Submission(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkUploadedGuardsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Unknown submission.
	require.ErrorIs(t, s.MarkUploaded(ctx, "missing", "{}"), ErrInvalidTransition)

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))
	require.NoError(t, s.MarkUploaded(ctx, "sub-1", "{}"))

	// Repeating the transition must fail, not silently re-apply.
	require.ErrorIs(t, s.MarkUploaded(ctx, "sub-1", "{}"), ErrInvalidTransition)
}

func TestMarkCompletedGuardsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))

	// Still INITIATED, cannot skip UPLOADED.
	require.ErrorIs(t, s.MarkCompleted(ctx, "sub-1"), ErrInvalidTransition)

	require.NoError(t, s.MarkUploaded(ctx, "sub-1", "{}"))
	require.NoError(t, s.MarkCompleted(ctx, "sub-1"))
	require.ErrorIs(t, s.MarkCompleted(ctx, "sub-1"), ErrInvalidTransition)
}

func TestSetStatusOverridesUnconditionally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))
	require.NoError(t, s.SetStatus(ctx, "sub-1", StatusFailed))

	sub, err := s.Submission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sub.Status)

	// Override back out of a terminal status is allowed.
	require.NoError(t, s.SetStatus(ctx, "sub-1", StatusInitiated))

	require.ErrorIs(t, s.SetStatus(ctx, "missing", StatusFailed), ErrNotFound)
}

func TestSetUploadPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))
	require.NoError(t, s.SetUploadPath(ctx, "sub-1", "upload/acct-1/sub-1"))

	sub, err := s.Submission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "upload/acct-1/sub-1", sub.UploadPath)

	require.ErrorIs(t, s.SetUploadPath(ctx, "missing", "x"), ErrNotFound)
}

func TestUpsertAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := account.Account{
		ID:        "acct-1",
		UserID:    "alice",
		LoginType: "webin",
		FirstName: "Alice",
		LastName:  "Ost",
		Email:     "alice@example.org",
	}
	require.NoError(t, s.UpsertAccount(ctx, a))

	// Same id with refreshed profile fields.
	a.Email = "alice@new.example.org"
	a.SecondaryEmail = "a2@example.org"
	require.NoError(t, s.UpsertAccount(ctx, a))

	got, err := s.Account(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.org", got.Email)
	assert.Equal(t, "a2@example.org", got.SecondaryEmail)
	assert.Equal(t, "webin", got.LoginType)

	_, err = s.Account(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))

	before := time.Now()
	require.NoError(t, s.UpsertProcessing(ctx, "sub-1", "validation", "RUNNING", 0))
	require.NoError(t, s.UpsertProcessing(ctx, "sub-1", "brokering", "PENDING", 2))

	steps, err := s.ProcessingSteps(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	// Ordered by priority: brokering(2) before validation(default 5).
	assert.Equal(t, "brokering", steps[0].Step)
	assert.Equal(t, 2, steps[0].Priority)
	assert.Equal(t, "validation", steps[1].Step)
	assert.Equal(t, DefaultPriority, steps[1].Priority)
	assert.False(t, steps[1].LastUpdate.Before(before))

	// Update keeps priority when none given and refreshes the timestamp.
	require.NoError(t, s.UpsertProcessing(ctx, "sub-1", "brokering", "RUNNING", 0))

	steps, err = s.ProcessingSteps(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", steps[0].Status)
	assert.Equal(t, 2, steps[0].Priority)
}

func TestProcessingTimestampIsServerSide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pinned := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return pinned }

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))
	require.NoError(t, s.UpsertProcessing(ctx, "sub-1", "validation", "RUNNING", 0))

	steps, err := s.ProcessingSteps(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].LastUpdate.Equal(pinned))
}

func TestInsertEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := `{"eventType":"VALIDATION_DONE","submissionId":"sub-1","reportedAt":"2026-03-01T12:00:00Z","detail":{"ok":true}}`

	id, err := s.InsertEvent(ctx, doc)
	require.NoError(t, err)
	assert.Positive(t, id)

	events, err := s.EventsForSubmission(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "VALIDATION_DONE", events[0].EventType)
	assert.Equal(t, doc, events[0].Document)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano(), events[0].ReportedAt.UnixNano())
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestInsertEventToleratesSparseDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No lifted fields at all: stored, just not queryable by submission.
	id, err := s.InsertEvent(ctx, `{"unrelated":true}`)
	require.NoError(t, err)
	assert.Positive(t, id)

	// Garbage timestamp degrades to NULL rather than failing the insert.
	_, err = s.InsertEvent(ctx, `{"submissionId":"sub-x","reportedAt":"not-a-time"}`)
	require.NoError(t, err)

	events, err := s.EventsForSubmission(ctx, "sub-x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].ReportedAt.IsZero())
}
