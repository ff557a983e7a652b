package domain

import "time"

// ExceptionStatus tracks the single allowed transition: open -> justified.
type ExceptionStatus string

const (
	ExceptionOpen      ExceptionStatus = "open"
	ExceptionJustified ExceptionStatus = "justified"
)

// Exception captures one failing rule outcome for reviewer follow-up. Each
// exception corresponds to exactly one failing RuleOutcome.
type Exception struct {
	ID         string
	ChangeID   ChangeID
	RuleName   string
	ReasonCode ReasonCode
	Status     ExceptionStatus

	// Recommendation is filled best-effort by the AI collaborator; nil when
	// the collaborator timed out or errored.
	Recommendation *string

	// Justification is the reviewer's closing note, set exactly once.
	Justification *string
	JustifiedBy   *string

	RaisedAt    time.Time
	JustifiedAt *time.Time
}
