// Package testutil provides common test utilities: change fixtures that pass
// every compliance check, plus HTTP helpers for handler tests. Tests mutate a
// compliant fixture to provoke exactly the failure they are about.
package testutil

import (
	"fmt"
	"time"

	"changegate/internal/domain"
	"changegate/internal/source"
)

// DefaultHorizon mirrors the production default for the approved-window rule.
const DefaultHorizon = 72 * time.Hour

// ChangeRecordFor returns a population row with the assessment fields filled.
func ChangeRecordFor(id string) domain.ChangeRecord {
	return domain.ChangeRecord{
		ID:          domain.ChangeID(id),
		ChangeWI:    "WI-" + id,
		CILink:      "ci://" + id,
		AssetName:   "payments-api",
		ChangeType:  "normal",
		RiskRating:  "medium",
		RequestorID: "requestor-1",
		DeveloperID: "developer-1",
	}
}

// Population returns n distinct compliant change records.
func Population(n int) []domain.ChangeRecord {
	out := make([]domain.ChangeRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ChangeRecordFor(fmt.Sprintf("CHG-%04d", i+1)))
	}
	return out
}

// CompliantBundle returns source rows that satisfy all six rules for a change
// approved at base: CAB minutes predate the deployment, the deployment runs
// inside the approval window, and the approver holds a DOA mandate.
func CompliantBundle(base time.Time) source.Bundle {
	return source.Bundle{
		Approvals: []domain.ApprovalRecord{{
			Status:     domain.ApprovalApproved,
			ApproverID: "approver-1",
			Group:      "change-managers",
			ApprovedAt: base,
		}},
		Deployments: []domain.DeploymentLog{{
			DeploymentID: "dep-1",
			PipelineID:   "pipe-1",
			DeployerID:   "deployer-1",
			Status:       domain.DeploymentSuccess,
			StartedAt:    base.Add(time.Hour),
			FinishedAt:   base.Add(2 * time.Hour),
		}},
		Evidence: []domain.EvidenceRecord{{
			RetentionRef: "ret://evidence/1",
			RetentionID:  "EV-1",
		}},
		Cab: []domain.CabDecision{{
			MeetingRef:  "CAB-2026-01",
			DecisionRef: "DEC-1",
			DecidedAt:   base.Add(30 * time.Minute),
		}},
		Doa: []domain.DoaEntry{{
			ApproverID:    "approver-1",
			EffectiveFrom: base.Add(-24 * time.Hour),
			EffectiveTo:   base.Add(24 * time.Hour),
		}},
	}
}

// CompliantContext assembles a ChangeContext that passes every rule.
func CompliantContext(id string, base time.Time) domain.ChangeContext {
	b := CompliantBundle(base)
	return domain.ChangeContext{
		Change:      ChangeRecordFor(id),
		Approvals:   b.Approvals,
		Deployments: b.Deployments,
		Evidence:    b.Evidence,
		Cab:         b.Cab,
		Doa:         b.Doa,
	}
}
