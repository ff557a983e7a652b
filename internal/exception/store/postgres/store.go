package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"changegate/internal/domain"
	dErrors "changegate/pkg/domain-errors"
)

// Store persists exceptions in the exceptions table. The only UPDATE issued
// is the open -> justified transition, guarded by a status predicate so
// concurrent reviewers cannot double-close.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, exc *domain.Exception) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exceptions (
			id, change_id, rule_name, reason_code, status,
			recommendation, justification, justified_by, raised_at, justified_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		exc.ID,
		string(exc.ChangeID),
		exc.RuleName,
		string(exc.ReasonCode),
		string(exc.Status),
		exc.Recommendation,
		exc.Justification,
		exc.JustifiedBy,
		exc.RaisedAt,
		exc.JustifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Exception, error) {
	exc, err := s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, change_id, rule_name, reason_code, status,
		       recommendation, justification, justified_by, raised_at, justified_at
		FROM exceptions
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "exception not found")
		}
		return nil, fmt.Errorf("query exception: %w", err)
	}
	return exc, nil
}

func (s *Store) Update(ctx context.Context, exc *domain.Exception) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exceptions
		SET status = $2, justification = $3, justified_by = $4, justified_at = $5
		WHERE id = $1 AND status = 'open'
	`,
		exc.ID,
		string(exc.Status),
		exc.Justification,
		exc.JustifiedBy,
		exc.JustifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update exception: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update exception: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeAlreadyJustified, "exception is already justified")
	}
	return nil
}

func (s *Store) ListByChange(ctx context.Context, id domain.ChangeID) ([]*domain.Exception, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, change_id, rule_name, reason_code, status,
		       recommendation, justification, justified_by, raised_at, justified_at
		FROM exceptions
		WHERE change_id = $1
		ORDER BY raised_at
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Exception
	for rows.Next() {
		exc, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		out = append(out, exc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row scanner) (*domain.Exception, error) {
	var (
		exc      domain.Exception
		changeID string
		reason   string
		status   string
	)
	err := row.Scan(
		&exc.ID,
		&changeID,
		&exc.RuleName,
		&reason,
		&status,
		&exc.Recommendation,
		&exc.Justification,
		&exc.JustifiedBy,
		&exc.RaisedAt,
		&exc.JustifiedAt,
	)
	if err != nil {
		return nil, err
	}
	exc.ChangeID = domain.ChangeID(changeID)
	exc.ReasonCode = domain.ReasonCode(reason)
	exc.Status = domain.ExceptionStatus(status)
	return &exc, nil
}
