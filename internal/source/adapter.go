// Package source provides read-only access to the external compliance data
// sets backing a validation run. Adapters expose one snapshot; the pipeline
// never writes through them.
package source

import (
	"context"
	"errors"
	"fmt"

	"changegate/internal/domain"
)

// Bundle groups every related row for one change. Absent data is an empty
// slice, never an error; malformed data is a SchemaMismatchError.
type Bundle struct {
	Approvals   []domain.ApprovalRecord
	Deployments []domain.DeploymentLog
	Evidence    []domain.EvidenceRecord
	Cab         []domain.CabDecision
	Doa         []domain.DoaEntry
}

// Adapter is the pipeline's only view of source systems.
type Adapter interface {
	// Fetch returns all related rows for a change.
	Fetch(ctx context.Context, id domain.ChangeID) (Bundle, error)

	// DashboardRecord returns the ITSM dashboard's view of a change for the
	// IPE reconciliation. ok is false when the dashboard has no row, which
	// is an IPE failure, not an error.
	DashboardRecord(ctx context.Context, id domain.ChangeID) (domain.ChangeRecord, bool, error)

	// SnapshotVersion identifies the read-only snapshot backing this
	// adapter. Verdict caching keys on it.
	SnapshotVersion() string
}

// SchemaMismatchError reports malformed source rows. It halts only the
// affected change's run; the engine converts it to evaluation_error outcomes.
type SchemaMismatchError struct {
	Source string
	Detail string
	Cause  error
}

func (e *SchemaMismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema mismatch in %s: %s: %v", e.Source, e.Detail, e.Cause)
	}
	return fmt.Sprintf("schema mismatch in %s: %s", e.Source, e.Detail)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Cause }

// IsSchemaMismatch reports whether err wraps a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}
