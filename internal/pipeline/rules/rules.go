// Package rules holds the six compliance checks the pipeline runs per change.
// Rules are pure functions of the ChangeContext: no I/O, no side effects, no
// state. Ordering is fixed because later rules lean on structural
// preconditions the earlier ones establish.
package rules

import (
	"time"

	"changegate/internal/domain"
)

// Rule is one compliance check. check returns pass/fail plus the reason code
// for failures.
type Rule struct {
	Name  string
	check func(c domain.ChangeContext) (bool, domain.ReasonCode)
}

// Evaluate runs the rule and stamps the outcome.
func (r Rule) Evaluate(c domain.ChangeContext) domain.RuleOutcome {
	passed, reason := r.check(c)
	out := domain.RuleOutcome{
		RuleName:    r.Name,
		Passed:      passed,
		EvaluatedAt: time.Now().UTC(),
	}
	if !passed {
		out.ReasonCode = reason
	}
	return out
}

// Rule names, in evaluation order.
const (
	NameCICDVsITSM       = "cicd_vs_itsm"
	NameAssessmentFields = "assessment_fields_present"
	NameCabPreDeploy     = "cab_pre_deploy_approval"
	NameEvidence         = "evidence_retention"
	NameDoaAuthorization = "doa_authorization"
	NameApprovedWindow   = "approved_window"
)

// Count is the number of rules on the normal pipeline path.
const Count = 6

// Ordered returns the six rules in their fixed evaluation order. horizon is
// the policy window after approval within which deployments must complete.
func Ordered(horizon time.Duration) []Rule {
	return []Rule{
		{Name: NameCICDVsITSM, check: checkCICDVsITSM},
		{Name: NameAssessmentFields, check: checkAssessmentFields},
		{Name: NameCabPreDeploy, check: checkCabPreDeploy},
		{Name: NameEvidence, check: checkEvidence},
		{Name: NameDoaAuthorization, check: checkDoaAuthorization},
		{Name: NameApprovedWindow, check: checkApprovedWindow(horizon)},
	}
}

// checkCICDVsITSM cross-checks the CI/CD log against the ITSM approval: a
// successfully logged deployment must be backed by an approved change. The
// first unmet condition wins the reason code.
func checkCICDVsITSM(c domain.ChangeContext) (bool, domain.ReasonCode) {
	logged := false
	for _, d := range c.Deployments {
		if d.Status == domain.DeploymentSuccess {
			logged = true
			break
		}
	}
	if !logged {
		return false, domain.ReasonDeploymentUnlogged
	}
	if _, ok := c.ApprovedApproval(); !ok {
		return false, domain.ReasonApprovalMissing
	}
	return true, ""
}

func checkAssessmentFields(c domain.ChangeContext) (bool, domain.ReasonCode) {
	if c.Change.ChangeWI == "" || c.Change.CILink == "" {
		return false, domain.ReasonAssessmentFieldsMissing
	}
	return true, ""
}

// checkCabPreDeploy requires a CAB decision dated no later than the earliest
// deployment start. A change with a decision but no deployments passes:
// nothing went out ahead of the approval.
func checkCabPreDeploy(c domain.ChangeContext) (bool, domain.ReasonCode) {
	if len(c.Cab) == 0 {
		return false, domain.ReasonCabApprovalLateOrMissing
	}
	earliest, ok := c.EarliestDeploymentStart()
	if !ok {
		return true, ""
	}
	for _, d := range c.Cab {
		if !d.DecidedAt.After(earliest) {
			return true, ""
		}
	}
	return false, domain.ReasonCabApprovalLateOrMissing
}

func checkEvidence(c domain.ChangeContext) (bool, domain.ReasonCode) {
	if len(c.Evidence) == 0 {
		return false, domain.ReasonEvidenceMissing
	}
	return true, ""
}

// checkDoaAuthorization verifies the approving person held a DOA mandate at
// approval time. Without an approved approval there is nothing to authorize,
// which is itself a failure here.
func checkDoaAuthorization(c domain.ChangeContext) (bool, domain.ReasonCode) {
	approval, ok := c.ApprovedApproval()
	if !ok {
		return false, domain.ReasonDoaUnauthorized
	}
	for _, entry := range c.DoaEntriesFor(approval.ApproverID) {
		if entry.Covers(approval.ApprovedAt) {
			return true, ""
		}
	}
	return false, domain.ReasonDoaUnauthorized
}

// checkApprovedWindow requires every deployment to run inside
// [approval_time, approval_time+horizon]. A change with no deployments passes
// vacuously; a change with no approved approval has no window and fails.
func checkApprovedWindow(horizon time.Duration) func(domain.ChangeContext) (bool, domain.ReasonCode) {
	return func(c domain.ChangeContext) (bool, domain.ReasonCode) {
		if len(c.Deployments) == 0 {
			return true, ""
		}
		approval, ok := c.ApprovedApproval()
		if !ok {
			return false, domain.ReasonDeploymentOutsideWindow
		}
		windowEnd := approval.ApprovedAt.Add(horizon)
		for _, d := range c.Deployments {
			if d.StartedAt.Before(approval.ApprovedAt) || d.FinishedAt.After(windowEnd) {
				return false, domain.ReasonDeploymentOutsideWindow
			}
		}
		return true, ""
	}
}
