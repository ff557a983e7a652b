package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"changegate/internal/domain"
)

// Store persists audit events in the audit_events table. The table carries no
// UPDATE or DELETE grants; append-only semantics are enforced at the schema
// level as well as here.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event domain.AuditEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, change_id, step, action, timestamp, seq, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.New(),
		string(event.ChangeID),
		string(event.Step),
		string(event.Action),
		event.Timestamp,
		event.Seq,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByChange(ctx context.Context, id domain.ChangeID) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, step, action, timestamp, seq, details
		FROM audit_events
		WHERE change_id = $1
		ORDER BY timestamp, seq
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			event   domain.AuditEvent
			change  string
			step    string
			action  string
			details []byte
		)
		if err := rows.Scan(&change, &step, &action, &event.Timestamp, &event.Seq, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ChangeID = domain.ChangeID(change)
		event.Step = domain.AuditStep(step)
		event.Action = domain.AuditAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
