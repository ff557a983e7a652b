//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"changegate/internal/domain"
	"changegate/internal/source"
	"changegate/internal/source/postgres"
	"changegate/pkg/testutil/containers"
)

type SourceAdapterSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	adapter  *postgres.Adapter
}

func TestSourceAdapterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SourceAdapterSuite))
}

func (s *SourceAdapterSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.adapter = postgres.New(s.postgres.DB, "snap-1")
}

func (s *SourceAdapterSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(),
		"itsm_approvals", "cicd_deployments", "evidence_records", "cab_minutes", "doa_register", "itsm_dashboard",
	))
}

func (s *SourceAdapterSuite) seedChange(id string, base time.Time) {
	ctx := context.Background()
	db := s.postgres.DB

	_, err := db.ExecContext(ctx, `
		INSERT INTO itsm_approvals (change_id, approval_status, approver_id, approval_group, approval_time)
		VALUES ($1, 'approved', 'alice', 'change-managers', $2)
	`, id, base)
	s.Require().NoError(err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO cicd_deployments (change_id, deployment_id, pipeline_id, deployer_id, status, started_at, finished_at)
		VALUES ($1, 'dep-1', 'pipe-1', 'carol', 'success', $2, $3)
	`, id, base.Add(time.Hour), base.Add(2*time.Hour))
	s.Require().NoError(err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO evidence_records (change_id, retention_ref, retention_id)
		VALUES ($1, 'ret://evidence/1', 'EV-1')
	`, id)
	s.Require().NoError(err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO cab_minutes (change_id, meeting_ref, decision_ref, decided_at)
		VALUES ($1, 'CAB-10', 'DEC-1', $2)
	`, id, base.Add(30*time.Minute))
	s.Require().NoError(err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO doa_register (approver_id, effective_from, effective_to)
		VALUES ('alice', $1, $2)
	`, base.Add(-24*time.Hour), base.Add(24*time.Hour))
	s.Require().NoError(err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO itsm_dashboard (change_id, change_wi, ci_link, asset_name, change_type, risk_rating, requestor_id, developer_id, implemented_at)
		VALUES ($1, 'WI-1', 'ci://app', 'payments-api', 'normal', 'medium', 'req-1', 'dev-1', $2)
	`, id, base.Add(2*time.Hour))
	s.Require().NoError(err)
}

func (s *SourceAdapterSuite) TestFetchJoinsAllTables() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.seedChange("CHG-1", base)

	b, err := s.adapter.Fetch(ctx, "CHG-1")
	s.Require().NoError(err)

	s.Require().Len(b.Approvals, 1)
	s.Equal(domain.ApprovalApproved, b.Approvals[0].Status)
	s.Equal("alice", b.Approvals[0].ApproverID)
	s.True(b.Approvals[0].ApprovedAt.Equal(base))

	s.Require().Len(b.Deployments, 1)
	s.Equal(domain.DeploymentSuccess, b.Deployments[0].Status)
	s.Equal("carol", b.Deployments[0].DeployerID)

	s.Len(b.Evidence, 1)
	s.Len(b.Cab, 1)

	s.Require().Len(b.Doa, 1)
	s.Equal("alice", b.Doa[0].ApproverID)
}

func (s *SourceAdapterSuite) TestFetchAbsentChangeIsEmpty() {
	b, err := s.adapter.Fetch(context.Background(), "CHG-404")
	s.Require().NoError(err)
	s.Empty(b.Approvals)
	s.Empty(b.Deployments)
}

func (s *SourceAdapterSuite) TestUnknownStatusIsSchemaMismatch() {
	ctx := context.Background()
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO itsm_approvals (change_id, approval_status, approver_id, approval_group, approval_time)
		VALUES ('CHG-1', 'maybe', 'alice', 'change-managers', now())
	`)
	s.Require().NoError(err)

	_, err = s.adapter.Fetch(ctx, "CHG-1")
	s.Require().Error(err)
	s.True(source.IsSchemaMismatch(err))
}

func (s *SourceAdapterSuite) TestDashboardRecord() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.seedChange("CHG-1", base)

	rec, ok, err := s.adapter.DashboardRecord(ctx, "CHG-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("WI-1", rec.ChangeWI)
	s.Equal("ci://app", rec.CILink)
	s.Equal("req-1", rec.RequestorID)
	s.Equal("dev-1", rec.DeveloperID)

	_, ok, err = s.adapter.DashboardRecord(ctx, "CHG-404")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SourceAdapterSuite) TestPopulationListsDashboard() {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.seedChange("CHG-2", base)
	s.seedChange("CHG-1", base)

	population, err := s.adapter.Population(ctx)
	s.Require().NoError(err)
	s.Require().Len(population, 2)
	s.Equal(domain.ChangeID("CHG-1"), population[0].ID)
	s.Equal(domain.ChangeID("CHG-2"), population[1].ID)
	s.Equal("req-1", population[0].RequestorID)
}
