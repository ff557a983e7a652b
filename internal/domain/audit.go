package domain

import "time"

// AuditStep names a stage of a change's audit lifecycle.
type AuditStep string

const (
	StepIngested           AuditStep = "ingested"
	StepIPEChecked         AuditStep = "ipe_checked"
	StepRuleEvaluating     AuditStep = "rule_evaluating"
	StepVerdictComputed    AuditStep = "verdict_computed"
	StepSodChecked         AuditStep = "sod_checked"
	StepExceptionRaised    AuditStep = "exception_raised"
	StepExceptionJustified AuditStep = "exception_justified"
)

// AuditAction is the machine-readable action recorded for a step.
type AuditAction string

const (
	ActionIngested           AuditAction = "ingested"
	ActionIPEPassed          AuditAction = "ipe_passed"
	ActionIPEFailed          AuditAction = "ipe_failed"
	ActionRulePassed         AuditAction = "rule_passed"
	ActionRuleFailed         AuditAction = "rule_failed"
	ActionVerdictComputed    AuditAction = "verdict_computed"
	ActionSodConflict        AuditAction = "sod_conflict"
	ActionExceptionRaised    AuditAction = "exception_raised"
	ActionExceptionJustified AuditAction = "exception_justified"
)

// AuditEvent is one entry of the append-only compliance trail. Events are
// totally ordered per change by (Timestamp, Seq); Seq breaks wall-clock ties.
// Events are never mutated or deleted.
type AuditEvent struct {
	ChangeID  ChangeID
	Step      AuditStep
	Action    AuditAction
	Timestamp time.Time
	Seq       uint64
	Details   map[string]string
}
