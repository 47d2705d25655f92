package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// IngestedEvent is a raw pipeline event document plus the fields lifted
// out of it for querying. Lifted fields are best-effort: a document
// missing any of them is still stored.
type IngestedEvent struct {
	ID           int64
	Document     string
	EventType    string
	SubmissionID string
	ReportedAt   time.Time
	ReceivedAt   time.Time
}

// InsertEvent stores a raw event document verbatim and extracts
// event_type, submission_id and reported_at when present. It returns
// the row id of the stored event.
func (s *Store) InsertEvent(ctx context.Context, document string) (int64, error) {
	var (
		eventType    sql.NullString
		submissionID sql.NullString
		reportedAt   sql.NullInt64
	)

	if v := gjson.Get(document, "eventType"); v.Exists() {
		eventType = sql.NullString{String: v.String(), Valid: true}
	}

	if v := gjson.Get(document, "submissionId"); v.Exists() {
		submissionID = sql.NullString{String: v.String(), Valid: true}
	}

	if v := gjson.Get(document, "reportedAt"); v.Exists() {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			reportedAt = sql.NullInt64{Int64: t.UnixNano(), Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingested_events (document, event_type, submission_id, reported_at, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		document, eventType, submissionID, reportedAt, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: inserting event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading event id: %w", err)
	}

	return id, nil
}

// EventsForSubmission returns stored events lifted for a submission,
// newest first.
func (s *Store) EventsForSubmission(ctx context.Context, submissionID string) ([]IngestedEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, event_type, submission_id, reported_at, received_at
		 FROM ingested_events WHERE submission_id = ?
		 ORDER BY received_at DESC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("store: loading events for %s: %w", submissionID, err)
	}
	defer rows.Close()

	var events []IngestedEvent

	for rows.Next() {
		var (
			ev         IngestedEvent
			eventType  sql.NullString
			subID      sql.NullString
			reportedAt sql.NullInt64
			receivedAt int64
		)

		if err := rows.Scan(&ev.ID, &ev.Document, &eventType, &subID, &reportedAt, &receivedAt); err != nil {
			return nil, fmt.Errorf("store: scanning event: %w", err)
		}

		ev.EventType = eventType.String
		ev.SubmissionID = subID.String
		if reportedAt.Valid {
			ev.ReportedAt = time.Unix(0, reportedAt.Int64)
		}
		ev.ReceivedAt = time.Unix(0, receivedAt)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating events: %w", err)
	}

	return events, nil
}
