package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"

	audit "kcc-issuer/pkg/platform/audit"
)

// Store implements audit.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, timestamp, action, outcome, issuer_did, subject_did, record_id,
	stage, error_code, reason, request_id, client_ip, client_device
`

// Append inserts an event. Events that already carry an ID are inserted idempotently.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	eventID := event.ID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		event.Timestamp,
		string(event.Action),
		string(event.Outcome),
		event.IssuerDID,
		event.SubjectDID,
		event.RecordID,
		event.Stage,
		event.ErrorCode,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.ClientDevice,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events for a subject DID, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectDID string) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_events
		WHERE subject_did = $1
		ORDER BY timestamp DESC
	`

	rows, err := s.db.QueryContext(ctx, query, subjectDID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// clampLimit keeps LIMIT inside the int4 range Postgres accepts for the parameter.
func clampLimit(limit int) int32 {
	switch {
	case limit <= 0:
		return math.MaxInt32
	case limit > math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(limit)
	}
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event   audit.Event
			action  string
			outcome string
		)

		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&action,
			&outcome,
			&event.IssuerDID,
			&event.SubjectDID,
			&event.RecordID,
			&event.Stage,
			&event.ErrorCode,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
			&event.ClientDevice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		event.Outcome = audit.Outcome(outcome)

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
