package domain

import "time"

// ReasonCode is the machine-readable tag attached to a failing rule outcome.
type ReasonCode string

const (
	ReasonDeploymentUnlogged       ReasonCode = "deployment_unlogged"
	ReasonApprovalMissing          ReasonCode = "approval_missing"
	ReasonAssessmentFieldsMissing  ReasonCode = "assessment_fields_missing"
	ReasonCabApprovalLateOrMissing ReasonCode = "cab_approval_late_or_missing"
	ReasonEvidenceMissing          ReasonCode = "evidence_missing"
	ReasonDoaUnauthorized          ReasonCode = "doa_unauthorized"
	ReasonDeploymentOutsideWindow  ReasonCode = "deployment_outside_window"

	// ReasonEvaluationError marks outcomes where the rule itself could not
	// run (missing source data, adapter fault). It fails the change without
	// aborting the rest of the population.
	ReasonEvaluationError ReasonCode = "evaluation_error"
)

// RuleOutcome is the immutable result of evaluating one rule against one
// change. ReasonCode is set iff Passed is false.
type RuleOutcome struct {
	RuleName    string
	Passed      bool
	ReasonCode  ReasonCode
	EvaluatedAt time.Time
}

// OverallStatus is the final per-change compliance state.
type OverallStatus string

const (
	StatusPassed               OverallStatus = "passed"
	StatusFailedWithExceptions OverallStatus = "failed_with_exceptions"

	// StatusBlocked means the IPE pre-check failed and the change never
	// entered the rule sequence. Blocked verdicts carry no reason codes,
	// only a remediation trigger.
	StatusBlocked OverallStatus = "blocked"
)

// Verdict is the pipeline's final outcome for one change. Computed once per
// run; immutable. Outcomes preserves rule evaluation order.
type Verdict struct {
	ChangeID   ChangeID
	Status     OverallStatus
	Outcomes   []RuleOutcome
	ComputedAt time.Time
}
