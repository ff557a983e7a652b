// Package sod detects segregation-of-duties conflicts across the four actor
// roles of a change: requestor, developer, deployer and approver. Detection
// runs outside the verdict pipeline and opens no exceptions; conflicts land
// on the audit trail and in the returned report.
package sod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"changegate/internal/audit"
	"changegate/internal/domain"
	"changegate/internal/source"
)

// ReportStatus is the per-change outcome of a detection run.
type ReportStatus string

const (
	StatusOK       ReportStatus = "ok"
	StatusConflict ReportStatus = "conflict"

	// StatusError marks changes whose source rows could not be read. They
	// are reported, never silently dropped.
	StatusError ReportStatus = "error"
)

// Finding is one identity holding more than one role on a change. Roles
// preserves the fixed role order: Requestor, Developer, Deployer, Approver.
type Finding struct {
	SharedID string
	Roles    []string
}

// Report is the detection outcome for one change.
type Report struct {
	ChangeID domain.ChangeID
	Status   ReportStatus
	Reason   string
	Findings []Finding
}

// Detector runs segregation-of-duties checks over a change population.
type Detector struct {
	adapter  source.Adapter
	recorder *audit.Recorder
	logger   *slog.Logger
}

func New(adapter source.Adapter, recorder *audit.Recorder, logger *slog.Logger) (*Detector, error) {
	if adapter == nil {
		return nil, fmt.Errorf("source adapter is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	return &Detector{adapter: adapter, recorder: recorder, logger: logger}, nil
}

// Detect returns one report per change, in input order. Conflicts are
// recorded on the audit trail; an audit write failure aborts the run.
func (d *Detector) Detect(ctx context.Context, population []domain.ChangeRecord) ([]Report, error) {
	reports := make([]Report, 0, len(population))
	for _, change := range population {
		report, err := d.detectChange(ctx, change)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (d *Detector) detectChange(ctx context.Context, change domain.ChangeRecord) (Report, error) {
	bundle, err := d.adapter.Fetch(ctx, change.ID)
	if err != nil {
		d.logger.WarnContext(ctx, "source fetch failed, sod check not evaluated",
			"change_id", change.ID,
			"error", err,
		)
		return Report{ChangeID: change.ID, Status: StatusError, Reason: err.Error()}, nil
	}

	var approverID string
	for _, appr := range bundle.Approvals {
		if appr.Status == domain.ApprovalApproved {
			approverID = appr.ApproverID
			break
		}
	}
	var deployerID string
	if len(bundle.Deployments) > 0 {
		deployerID = bundle.Deployments[0].DeployerID
	}

	findings := findSharedRoles([]roleID{
		{"Requestor", change.RequestorID},
		{"Developer", change.DeveloperID},
		{"Deployer", deployerID},
		{"Approver", approverID},
	})
	if len(findings) == 0 {
		return Report{ChangeID: change.ID, Status: StatusOK}, nil
	}

	reason := formatReason(findings)
	if err := d.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: change.ID,
		Step:     domain.StepSodChecked,
		Action:   domain.ActionSodConflict,
		Details:  map[string]string{"reason": reason},
	}); err != nil {
		return Report{}, err
	}
	return Report{
		ChangeID: change.ID,
		Status:   StatusConflict,
		Reason:   reason,
		Findings: findings,
	}, nil
}

type roleID struct {
	role string
	id   string
}

// findSharedRoles groups roles by identity and keeps the identities holding
// more than one. Empty and unknown identities are not comparable.
func findSharedRoles(roles []roleID) []Finding {
	var order []string
	byID := make(map[string][]string)
	for _, r := range roles {
		if r.id == "" || strings.EqualFold(r.id, "unknown") {
			continue
		}
		if _, seen := byID[r.id]; !seen {
			order = append(order, r.id)
		}
		byID[r.id] = append(byID[r.id], r.role)
	}

	var findings []Finding
	for _, id := range order {
		if held := byID[id]; len(held) > 1 {
			findings = append(findings, Finding{SharedID: id, Roles: held})
		}
	}
	return findings
}

// formatReason renders findings the way reviewers read them on the report:
// "Requestor and Developer share the same ID (usr-1)", multiple findings
// joined by semicolons.
func formatReason(findings []Finding) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		var roles string
		if len(f.Roles) == 2 {
			roles = f.Roles[0] + " and " + f.Roles[1]
		} else {
			roles = strings.Join(f.Roles[:len(f.Roles)-1], ", ") + " & " + f.Roles[len(f.Roles)-1]
		}
		parts = append(parts, fmt.Sprintf("%s share the same ID (%s)", roles, f.SharedID))
	}
	return strings.Join(parts, "; ")
}
