package domain

import "time"

// ChangeID is the external change-management identifier (e.g. "CHG-1024").
// It is assigned by the source ITSM system and never rewritten here.
type ChangeID string

func (c ChangeID) String() string { return string(c) }

// ChangeRecord is one row of the change population under validation. The
// pipeline treats it as read-only; ingestion owns its lifecycle.
type ChangeRecord struct {
	ID       ChangeID
	ChangeWI string // work item reference backing the change
	CILink   string // configuration item the change touches

	// Extraction attributes reconciled by the IPE pre-check. The six
	// validation rules never read these.
	AssetName     string
	ChangeType    string
	RiskRating    string
	ImplementedAt time.Time

	// Actor identities from the ITSM record. Only the segregation-of-duties
	// check reads them.
	RequestorID string
	DeveloperID string
}

// ApprovalStatus enumerates ITSM approval states.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalPending  ApprovalStatus = "pending"
)

// ApprovalRecord is one ITSM approval row for a change.
type ApprovalRecord struct {
	Status     ApprovalStatus
	ApproverID string
	Group      string
	ApprovedAt time.Time
}

// DeploymentStatus enumerates CI/CD pipeline run states.
type DeploymentStatus string

const (
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentInProgress DeploymentStatus = "in_progress"
)

// DeploymentLog is one CI/CD deployment row for a change.
type DeploymentLog struct {
	DeploymentID string
	PipelineID   string
	DeployerID   string
	Status       DeploymentStatus
	StartedAt    time.Time
	FinishedAt   time.Time
}

// EvidenceRecord is a pointer into the evidence retention system. Presence of
// at least one record is itself a validation signal.
type EvidenceRecord struct {
	RetentionRef string
	RetentionID  string
}

// CabDecision is a Change Advisory Board approval minute. DecidedAt must
// predate the earliest deployment start for the pre-deploy check to pass.
type CabDecision struct {
	MeetingRef  string
	DecisionRef string
	DecidedAt   time.Time
}

// DoaEntry is a Delegation of Authority register row: who may approve, and
// during which interval.
type DoaEntry struct {
	ApproverID    string
	EffectiveFrom time.Time
	EffectiveTo   time.Time
}

// Covers reports whether the entry authorizes an approval at the given time.
func (d DoaEntry) Covers(at time.Time) bool {
	return !at.Before(d.EffectiveFrom) && !at.After(d.EffectiveTo)
}

// ChangeContext aggregates everything the rules need for one change. It is
// assembled per pipeline run and discarded afterwards; never persisted.
type ChangeContext struct {
	Change      ChangeRecord
	Approvals   []ApprovalRecord
	Deployments []DeploymentLog
	Evidence    []EvidenceRecord
	Cab         []CabDecision
	Doa         []DoaEntry
}

// ApprovedApproval returns the first approval with status approved.
func (c ChangeContext) ApprovedApproval() (ApprovalRecord, bool) {
	for _, a := range c.Approvals {
		if a.Status == ApprovalApproved {
			return a, true
		}
	}
	return ApprovalRecord{}, false
}

// EarliestDeploymentStart returns the earliest StartedAt across deployments.
func (c ChangeContext) EarliestDeploymentStart() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, d := range c.Deployments {
		if !found || d.StartedAt.Before(earliest) {
			earliest = d.StartedAt
			found = true
		}
	}
	return earliest, found
}

// DoaEntriesFor returns all register rows for a given approver.
func (c ChangeContext) DoaEntriesFor(approverID string) []DoaEntry {
	var entries []DoaEntry
	for _, e := range c.Doa {
		if e.ApproverID == approverID {
			entries = append(entries, e)
		}
	}
	return entries
}
