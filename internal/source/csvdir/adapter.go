// Package csvdir provides a flat-file source adapter reading one directory of
// CSV extracts, mirroring how audit populations are delivered by the upstream
// teams. The directory is parsed once at construction and treated as an
// immutable snapshot.
//
// Expected files (header row required):
//
//	dashboard.csv   change_id,change_wi,ci_link,asset_name,change_type,risk_rating,requestor_id,developer_id,implemented_at
//	approvals.csv   change_id,status,approver_id,approval_group,approved_at
//	deployments.csv change_id,deployment_id,pipeline_id,deployer_id,status,started_at,finished_at
//	evidence.csv    change_id,retention_ref,retention_id
//	cab.csv         change_id,meeting_ref,decision_ref,decided_at
//	doa.csv         approver_id,effective_from,effective_to
//
// Timestamps are RFC 3339. A malformed row poisons only what it describes:
// rows keyed by change poison that change, and a malformed doa.csv row
// poisons every change whose approvals reference that approver. Fetch for a
// poisoned change returns a SchemaMismatchError while the rest of the
// population stays readable.
package csvdir

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"changegate/internal/domain"
	"changegate/internal/source"
)

type Adapter struct {
	version   string
	bundles   map[domain.ChangeID]source.Bundle
	dashboard map[domain.ChangeID]domain.ChangeRecord
	doa       map[string][]domain.DoaEntry

	// faults is keyed by change ID; doaFaults by approver ID, because
	// doa.csv rows carry no change reference.
	faults    map[domain.ChangeID]*source.SchemaMismatchError
	doaFaults map[string]*source.SchemaMismatchError
}

// New parses every CSV in dir. Missing files mean valid absence; unreadable
// files are an error.
func New(dir, version string) (*Adapter, error) {
	a := &Adapter{
		version:   version,
		bundles:   make(map[domain.ChangeID]source.Bundle),
		dashboard: make(map[domain.ChangeID]domain.ChangeRecord),
		doa:       make(map[string][]domain.DoaEntry),
		faults:    make(map[domain.ChangeID]*source.SchemaMismatchError),
		doaFaults: make(map[string]*source.SchemaMismatchError),
	}

	parsers := []struct {
		file        string
		fn          func(a *Adapter, row []string) (string, error)
		cols        int
		perApprover bool
	}{
		{"dashboard.csv", parseDashboard, 9, false},
		{"approvals.csv", parseApproval, 5, false},
		{"deployments.csv", parseDeployment, 7, false},
		{"evidence.csv", parseEvidence, 3, false},
		{"cab.csv", parseCab, 4, false},
		{"doa.csv", parseDoa, 3, true},
	}

	for _, p := range parsers {
		if err := a.parseFile(filepath.Join(dir, p.file), p.file, p.cols, p.perApprover, p.fn); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) parseFile(path, name string, cols int, perApprover bool, fn func(a *Adapter, row []string) (string, error)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) != cols {
			a.recordFault(rowKey(row), name, perApprover, fmt.Errorf("row %d: got %d columns, want %d", i+1, len(row), cols))
			continue
		}
		key, err := fn(a, row)
		if err != nil {
			a.recordFault(key, name, perApprover, fmt.Errorf("row %d: %w", i+1, err))
		}
	}
	return nil
}

// rowKey best-effort extracts the row's first column so a truncated row still
// poisons the right change or approver.
func rowKey(row []string) string {
	if len(row) > 0 {
		return row[0]
	}
	return ""
}

func (a *Adapter) recordFault(key, file string, perApprover bool, err error) {
	fault := &source.SchemaMismatchError{Source: file, Detail: "malformed row", Cause: err}
	if perApprover {
		if _, exists := a.doaFaults[key]; !exists {
			a.doaFaults[key] = fault
		}
		return
	}
	id := domain.ChangeID(key)
	if _, exists := a.faults[id]; !exists {
		a.faults[id] = fault
	}
}

func parseDashboard(a *Adapter, row []string) (string, error) {
	id := domain.ChangeID(row[0])
	implemented, err := parseTime(row[8])
	if err != nil {
		return row[0], fmt.Errorf("implemented_at: %w", err)
	}
	a.dashboard[id] = domain.ChangeRecord{
		ID:            id,
		ChangeWI:      row[1],
		CILink:        row[2],
		AssetName:     row[3],
		ChangeType:    row[4],
		RiskRating:    row[5],
		RequestorID:   row[6],
		DeveloperID:   row[7],
		ImplementedAt: implemented,
	}
	return row[0], nil
}

func parseApproval(a *Adapter, row []string) (string, error) {
	id := domain.ChangeID(row[0])
	status := domain.ApprovalStatus(row[1])
	switch status {
	case domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalPending:
	default:
		return row[0], fmt.Errorf("unknown approval status %q", row[1])
	}
	at, err := parseTime(row[4])
	if err != nil {
		return row[0], fmt.Errorf("approved_at: %w", err)
	}
	b := a.bundles[id]
	b.Approvals = append(b.Approvals, domain.ApprovalRecord{
		Status:     status,
		ApproverID: row[2],
		Group:      row[3],
		ApprovedAt: at,
	})
	a.bundles[id] = b
	return row[0], nil
}

func parseDeployment(a *Adapter, row []string) (string, error) {
	id := domain.ChangeID(row[0])
	status := domain.DeploymentStatus(row[4])
	switch status {
	case domain.DeploymentSuccess, domain.DeploymentFailed, domain.DeploymentInProgress:
	default:
		return row[0], fmt.Errorf("unknown deployment status %q", row[4])
	}
	started, err := parseTime(row[5])
	if err != nil {
		return row[0], fmt.Errorf("started_at: %w", err)
	}
	finished, err := parseTime(row[6])
	if err != nil {
		return row[0], fmt.Errorf("finished_at: %w", err)
	}
	b := a.bundles[id]
	b.Deployments = append(b.Deployments, domain.DeploymentLog{
		DeploymentID: row[1],
		PipelineID:   row[2],
		DeployerID:   row[3],
		Status:       status,
		StartedAt:    started,
		FinishedAt:   finished,
	})
	a.bundles[id] = b
	return row[0], nil
}

func parseEvidence(a *Adapter, row []string) (string, error) {
	id := domain.ChangeID(row[0])
	b := a.bundles[id]
	b.Evidence = append(b.Evidence, domain.EvidenceRecord{
		RetentionRef: row[1],
		RetentionID:  row[2],
	})
	a.bundles[id] = b
	return row[0], nil
}

func parseCab(a *Adapter, row []string) (string, error) {
	id := domain.ChangeID(row[0])
	decided, err := parseTime(row[3])
	if err != nil {
		return row[0], fmt.Errorf("decided_at: %w", err)
	}
	b := a.bundles[id]
	b.Cab = append(b.Cab, domain.CabDecision{
		MeetingRef:  row[1],
		DecisionRef: row[2],
		DecidedAt:   decided,
	})
	a.bundles[id] = b
	return row[0], nil
}

func parseDoa(a *Adapter, row []string) (string, error) {
	from, err := parseTime(row[1])
	if err != nil {
		return row[0], fmt.Errorf("effective_from: %w", err)
	}
	to, err := parseTime(row[2])
	if err != nil {
		return row[0], fmt.Errorf("effective_to: %w", err)
	}
	a.doa[row[0]] = append(a.doa[row[0]], domain.DoaEntry{
		ApproverID:    row[0],
		EffectiveFrom: from,
		EffectiveTo:   to,
	})
	return row[0], nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func (a *Adapter) Fetch(_ context.Context, id domain.ChangeID) (source.Bundle, error) {
	if fault, ok := a.faults[id]; ok {
		return source.Bundle{}, fault
	}
	b := a.bundles[id]
	// DOA rows are keyed by approver in the register; join them onto the
	// change through its approvals. A poisoned approver poisons the change:
	// its mandate cannot be read, so the change cannot be evaluated.
	seen := make(map[string]bool)
	for _, appr := range b.Approvals {
		if seen[appr.ApproverID] {
			continue
		}
		seen[appr.ApproverID] = true
		if fault, ok := a.doaFaults[appr.ApproverID]; ok {
			return source.Bundle{}, fault
		}
		b.Doa = append(b.Doa, a.doa[appr.ApproverID]...)
	}
	return b, nil
}

func (a *Adapter) DashboardRecord(_ context.Context, id domain.ChangeID) (domain.ChangeRecord, bool, error) {
	rec, ok := a.dashboard[id]
	return rec, ok, nil
}

// Population lists every dashboard row in the snapshot, ordered by change ID,
// for scheduled full-population runs.
func (a *Adapter) Population(_ context.Context) ([]domain.ChangeRecord, error) {
	out := make([]domain.ChangeRecord, 0, len(a.dashboard))
	for _, rec := range a.dashboard {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) SnapshotVersion() string { return a.version }
