// Package postgres provides a relational source adapter over snapshot tables
// loaded by the ingestion jobs. The adapter is read-only by construction:
// every statement is a SELECT.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"changegate/internal/domain"
	"changegate/internal/source"
)

type Adapter struct {
	db      *sql.DB
	version string
}

// New wraps an open database handle. version identifies the snapshot the
// tables were loaded from (e.g. an ingestion batch ID).
func New(db *sql.DB, version string) *Adapter {
	return &Adapter{db: db, version: version}
}

func (a *Adapter) Fetch(ctx context.Context, id domain.ChangeID) (source.Bundle, error) {
	var b source.Bundle
	var err error

	if b.Approvals, err = a.fetchApprovals(ctx, id); err != nil {
		return source.Bundle{}, err
	}
	if b.Deployments, err = a.fetchDeployments(ctx, id); err != nil {
		return source.Bundle{}, err
	}
	if b.Evidence, err = a.fetchEvidence(ctx, id); err != nil {
		return source.Bundle{}, err
	}
	if b.Cab, err = a.fetchCab(ctx, id); err != nil {
		return source.Bundle{}, err
	}
	if b.Doa, err = a.fetchDoa(ctx, b.Approvals); err != nil {
		return source.Bundle{}, err
	}
	return b, nil
}

func (a *Adapter) fetchApprovals(ctx context.Context, id domain.ChangeID) ([]domain.ApprovalRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT approval_status, approver_id, approval_group, approval_time
		FROM itsm_approvals
		WHERE change_id = $1
		ORDER BY approval_time
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.ApprovalRecord
	for rows.Next() {
		var rec domain.ApprovalRecord
		var status string
		if err := rows.Scan(&status, &rec.ApproverID, &rec.Group, &rec.ApprovedAt); err != nil {
			return nil, &source.SchemaMismatchError{Source: "itsm_approvals", Detail: "scan row", Cause: err}
		}
		rec.Status = domain.ApprovalStatus(status)
		switch rec.Status {
		case domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalPending:
		default:
			return nil, &source.SchemaMismatchError{
				Source: "itsm_approvals",
				Detail: fmt.Sprintf("unknown approval status %q", status),
			}
		}
		approvals = append(approvals, rec)
	}
	return approvals, rows.Err()
}

func (a *Adapter) fetchDeployments(ctx context.Context, id domain.ChangeID) ([]domain.DeploymentLog, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT deployment_id, pipeline_id, deployer_id, status, started_at, finished_at
		FROM cicd_deployments
		WHERE change_id = $1
		ORDER BY started_at
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var logs []domain.DeploymentLog
	for rows.Next() {
		var rec domain.DeploymentLog
		var status string
		if err := rows.Scan(&rec.DeploymentID, &rec.PipelineID, &rec.DeployerID, &status, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, &source.SchemaMismatchError{Source: "cicd_deployments", Detail: "scan row", Cause: err}
		}
		rec.Status = domain.DeploymentStatus(status)
		switch rec.Status {
		case domain.DeploymentSuccess, domain.DeploymentFailed, domain.DeploymentInProgress:
		default:
			return nil, &source.SchemaMismatchError{
				Source: "cicd_deployments",
				Detail: fmt.Sprintf("unknown deployment status %q", status),
			}
		}
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}

func (a *Adapter) fetchEvidence(ctx context.Context, id domain.ChangeID) ([]domain.EvidenceRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT retention_ref, retention_id
		FROM evidence_records
		WHERE change_id = $1
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var evidence []domain.EvidenceRecord
	for rows.Next() {
		var rec domain.EvidenceRecord
		if err := rows.Scan(&rec.RetentionRef, &rec.RetentionID); err != nil {
			return nil, &source.SchemaMismatchError{Source: "evidence_records", Detail: "scan row", Cause: err}
		}
		evidence = append(evidence, rec)
	}
	return evidence, rows.Err()
}

func (a *Adapter) fetchCab(ctx context.Context, id domain.ChangeID) ([]domain.CabDecision, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT meeting_ref, decision_ref, decided_at
		FROM cab_minutes
		WHERE change_id = $1
		ORDER BY decided_at
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query cab minutes: %w", err)
	}
	defer rows.Close()

	var decisions []domain.CabDecision
	for rows.Next() {
		var rec domain.CabDecision
		if err := rows.Scan(&rec.MeetingRef, &rec.DecisionRef, &rec.DecidedAt); err != nil {
			return nil, &source.SchemaMismatchError{Source: "cab_minutes", Detail: "scan row", Cause: err}
		}
		decisions = append(decisions, rec)
	}
	return decisions, rows.Err()
}

func (a *Adapter) fetchDoa(ctx context.Context, approvals []domain.ApprovalRecord) ([]domain.DoaEntry, error) {
	var entries []domain.DoaEntry
	seen := make(map[string]bool)
	for _, appr := range approvals {
		if seen[appr.ApproverID] {
			continue
		}
		seen[appr.ApproverID] = true

		rows, err := a.db.QueryContext(ctx, `
			SELECT approver_id, effective_from, effective_to
			FROM doa_register
			WHERE approver_id = $1
			ORDER BY effective_from
		`, appr.ApproverID)
		if err != nil {
			return nil, fmt.Errorf("query doa register: %w", err)
		}
		for rows.Next() {
			var rec domain.DoaEntry
			if err := rows.Scan(&rec.ApproverID, &rec.EffectiveFrom, &rec.EffectiveTo); err != nil {
				rows.Close()
				return nil, &source.SchemaMismatchError{Source: "doa_register", Detail: "scan row", Cause: err}
			}
			entries = append(entries, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return entries, nil
}

func (a *Adapter) DashboardRecord(ctx context.Context, id domain.ChangeID) (domain.ChangeRecord, bool, error) {
	var rec domain.ChangeRecord
	var changeID string
	err := a.db.QueryRowContext(ctx, `
		SELECT change_id, change_wi, ci_link, asset_name, change_type, risk_rating, requestor_id, developer_id, implemented_at
		FROM itsm_dashboard
		WHERE change_id = $1
	`, string(id)).Scan(&changeID, &rec.ChangeWI, &rec.CILink, &rec.AssetName, &rec.ChangeType, &rec.RiskRating, &rec.RequestorID, &rec.DeveloperID, &rec.ImplementedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.ChangeRecord{}, false, nil
		}
		return domain.ChangeRecord{}, false, fmt.Errorf("query dashboard: %w", err)
	}
	rec.ID = domain.ChangeID(changeID)
	return rec, true, nil
}

// Population lists every dashboard row in the snapshot, ordered by change ID,
// for scheduled full-population runs.
func (a *Adapter) Population(ctx context.Context) ([]domain.ChangeRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT change_id, change_wi, ci_link, asset_name, change_type, risk_rating, requestor_id, developer_id, implemented_at
		FROM itsm_dashboard
		ORDER BY change_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query dashboard population: %w", err)
	}
	defer rows.Close()

	var population []domain.ChangeRecord
	for rows.Next() {
		var rec domain.ChangeRecord
		var changeID string
		if err := rows.Scan(&changeID, &rec.ChangeWI, &rec.CILink, &rec.AssetName, &rec.ChangeType, &rec.RiskRating, &rec.RequestorID, &rec.DeveloperID, &rec.ImplementedAt); err != nil {
			return nil, &source.SchemaMismatchError{Source: "itsm_dashboard", Detail: "scan row", Cause: err}
		}
		rec.ID = domain.ChangeID(changeID)
		population = append(population, rec)
	}
	return population, rows.Err()
}

func (a *Adapter) SnapshotVersion() string { return a.version }
