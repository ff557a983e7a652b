package sod_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/audit"
	auditmem "changegate/internal/audit/store/memory"
	"changegate/internal/domain"
	"changegate/internal/sod"
	"changegate/internal/source"
	sourcemem "changegate/internal/source/memory"
	"changegate/pkg/testutil"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newDetector(t *testing.T) (*sod.Detector, *sourcemem.Adapter, *audit.Recorder) {
	t.Helper()
	adapter := sourcemem.New("snap-1")
	recorder := audit.NewRecorder(auditmem.NewInMemoryStore())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := sod.New(adapter, recorder, logger)
	require.NoError(t, err)
	return d, adapter, recorder
}

func seedActors(adapter *sourcemem.Adapter, id, requestor, developer, deployer, approver string) domain.ChangeRecord {
	rec := testutil.ChangeRecordFor(id)
	rec.RequestorID = requestor
	rec.DeveloperID = developer

	b := testutil.CompliantBundle(base)
	b.Approvals[0].ApproverID = approver
	b.Deployments[0].DeployerID = deployer
	adapter.SeedBundle(rec.ID, b)
	return rec
}

func TestDistinctActorsPass(t *testing.T) {
	d, adapter, recorder := newDetector(t)
	rec := testutil.ChangeRecordFor("CHG-1")
	adapter.SeedBundle(rec.ID, testutil.CompliantBundle(base))

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, sod.StatusOK, reports[0].Status)
	assert.Empty(t, reports[0].Findings)
	assert.Empty(t, reports[0].Reason)

	events, err := recorder.Query(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, events, "clean changes leave no trail entry")
}

func TestSharedPairIsConflict(t *testing.T) {
	d, adapter, recorder := newDetector(t)
	rec := seedActors(adapter, "CHG-2", "usr-1", "usr-1", "deployer-1", "approver-1")

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, sod.StatusConflict, r.Status)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "usr-1", r.Findings[0].SharedID)
	assert.Equal(t, []string{"Requestor", "Developer"}, r.Findings[0].Roles)
	assert.Equal(t, "Requestor and Developer share the same ID (usr-1)", r.Reason)

	events, err := recorder.Query(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActionSodConflict, events[0].Action)
	assert.Equal(t, r.Reason, events[0].Details["reason"])
}

func TestAllRolesSharedIsSingleFinding(t *testing.T) {
	d, adapter, _ := newDetector(t)
	rec := seedActors(adapter, "CHG-3", "usr-1", "usr-1", "usr-1", "usr-1")

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)

	r := reports[0]
	assert.Equal(t, sod.StatusConflict, r.Status)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, []string{"Requestor", "Developer", "Deployer", "Approver"}, r.Findings[0].Roles)
	assert.Equal(t, "Requestor, Developer, Deployer & Approver share the same ID (usr-1)", r.Reason)
}

func TestMultipleFindingsJoinWithSemicolons(t *testing.T) {
	d, adapter, _ := newDetector(t)
	rec := seedActors(adapter, "CHG-4", "usr-1", "usr-1", "usr-2", "usr-2")

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)

	r := reports[0]
	require.Len(t, r.Findings, 2)
	assert.Equal(t, "Requestor and Developer share the same ID (usr-1); Deployer and Approver share the same ID (usr-2)", r.Reason)
}

// Identities the extract could not attribute are not comparable: two unknown
// actors never count as the same person.
func TestUnknownIdentitiesAreNotCompared(t *testing.T) {
	d, adapter, _ := newDetector(t)
	rec := seedActors(adapter, "CHG-5", "Unknown", "unknown", "", "approver-1")

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, sod.StatusOK, reports[0].Status)
}

// A change with no deployments still compares the remaining roles.
func TestNoDeploymentsStillComparesOtherRoles(t *testing.T) {
	d, adapter, _ := newDetector(t)
	rec := testutil.ChangeRecordFor("CHG-6")
	rec.RequestorID = "usr-1"
	b := testutil.CompliantBundle(base)
	b.Approvals[0].ApproverID = "usr-1"
	b.Deployments = nil
	adapter.SeedBundle(rec.ID, b)

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)

	r := reports[0]
	assert.Equal(t, sod.StatusConflict, r.Status)
	assert.Equal(t, "Requestor and Approver share the same ID (usr-1)", r.Reason)
}

func TestFetchFaultIsReportedNotDropped(t *testing.T) {
	d, adapter, _ := newDetector(t)
	rec := testutil.ChangeRecordFor("CHG-7")
	adapter.SeedFault(rec.ID, &source.SchemaMismatchError{Source: "itsm_approvals", Detail: "malformed row"})

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, sod.StatusError, reports[0].Status)
	assert.Contains(t, reports[0].Reason, "itsm_approvals")
}

type failingAuditStore struct {
	audit.Store
}

func (failingAuditStore) Append(context.Context, domain.AuditEvent) error {
	return context.DeadlineExceeded
}

// A conflict that cannot be written to the trail aborts the run.
func TestAuditWriteFailureAbortsDetection(t *testing.T) {
	adapter := sourcemem.New("snap-1")
	recorder := audit.NewRecorder(failingAuditStore{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := sod.New(adapter, recorder, logger)
	require.NoError(t, err)

	rec := seedActors(adapter, "CHG-8", "usr-1", "usr-1", "deployer-1", "approver-1")

	reports, err := d.Detect(context.Background(), []domain.ChangeRecord{rec})
	require.Error(t, err)
	assert.Nil(t, reports)
}
