package pipeline

import (
	"context"

	"changegate/internal/domain"
)

// precheck is the IPE (Integrity of Process Execution) gate: structural
// validation of the extracted record plus reconciliation against the ITSM
// dashboard snapshot. Failure is a hard stop, not an exception: the change
// never enters the rule sequence and carries no reason codes, only the
// remediation details returned here.
func (e *Engine) precheck(ctx context.Context, change domain.ChangeRecord, duplicate bool) (map[string]string, bool) {
	if change.ID == "" {
		return map[string]string{"check": "structural", "detail": "empty change_id"}, false
	}
	if duplicate {
		return map[string]string{"check": "structural", "detail": "duplicate change_id in population"}, false
	}

	if !e.reconcile {
		return nil, true
	}

	dash, ok, err := e.adapter.DashboardRecord(ctx, change.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "dashboard lookup failed during pre-check",
			"change_id", change.ID,
			"error", err,
		)
		return map[string]string{"check": "reconciliation", "detail": "dashboard unavailable"}, false
	}
	if !ok {
		return map[string]string{"check": "reconciliation", "detail": "change missing from itsm dashboard"}, false
	}

	// Equality diff on the extraction fields the dashboard also carries. The
	// reconciliation is deliberately a plain comparison; anything richer
	// belongs in the rules.
	if dash.ChangeWI != change.ChangeWI {
		return map[string]string{
			"check":     "reconciliation",
			"field":     "change_wi",
			"extracted": change.ChangeWI,
			"dashboard": dash.ChangeWI,
		}, false
	}
	if dash.CILink != change.CILink {
		return map[string]string{
			"check":     "reconciliation",
			"field":     "ci_link",
			"extracted": change.CILink,
			"dashboard": dash.CILink,
		}, false
	}
	return nil, true
}
