package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultPriority is assigned to processing steps created without an
// explicit priority.
const DefaultPriority = 5

// ProcessingStep is one per-submission, per-pipeline-step record. At
// most one row exists per (submission, step); LastUpdate is stamped by
// the store on every mutation, never by the caller.
type ProcessingStep struct {
	SubmissionID string
	Step         string
	Status       string
	Priority     int
	LastUpdate   time.Time
}

// UpsertProcessing inserts or updates the step record for a submission.
// priority <= 0 means "keep the existing priority, or the default for a
// new row".
func (s *Store) UpsertProcessing(ctx context.Context, submissionID, step, status string, priority int) error {
	insertPriority := priority
	if insertPriority <= 0 {
		insertPriority = DefaultPriority
	}

	query := `INSERT INTO submission_processing (submission_id, step, status, priority, last_update)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (submission_id, step) DO UPDATE SET
			status = excluded.status,
			priority = CASE WHEN ? > 0 THEN excluded.priority ELSE submission_processing.priority END,
			last_update = excluded.last_update`

	_, err := s.db.ExecContext(ctx, query,
		submissionID, step, status, insertPriority, s.now().UnixNano(), priority)
	if err != nil {
		return fmt.Errorf("store: upserting processing step %s/%s: %w", submissionID, step, err)
	}

	return nil
}

// ProcessingSteps returns all step records for a submission ordered by
// priority, then step name.
func (s *Store) ProcessingSteps(ctx context.Context, submissionID string) ([]ProcessingStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, step, status, priority, last_update
		 FROM submission_processing WHERE submission_id = ?
		 ORDER BY priority, step`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("store: loading processing steps for %s: %w", submissionID, err)
	}
	defer rows.Close()

	var steps []ProcessingStep

	for rows.Next() {
		var (
			st         ProcessingStep
			lastUpdate int64
		)

		if err := rows.Scan(&st.SubmissionID, &st.Step, &st.Status, &st.Priority, &lastUpdate); err != nil {
			return nil, fmt.Errorf("store: scanning processing step: %w", err)
		}

		st.LastUpdate = time.Unix(0, lastUpdate)
		steps = append(steps, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating processing steps: %w", err)
	}

	return steps, nil
}
