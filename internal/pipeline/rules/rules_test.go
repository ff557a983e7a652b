package rules_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/domain"
	"changegate/internal/pipeline/rules"
	"changegate/pkg/testutil"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func ordered() []rules.Rule {
	return rules.Ordered(testutil.DefaultHorizon)
}

func evaluate(t *testing.T, name string, c domain.ChangeContext) domain.RuleOutcome {
	t.Helper()
	for _, r := range ordered() {
		if r.Name == name {
			return r.Evaluate(c)
		}
	}
	t.Fatalf("no rule named %q", name)
	return domain.RuleOutcome{}
}

func TestOrderedNamesAndOrder(t *testing.T) {
	rs := ordered()
	require.Len(t, rs, rules.Count)

	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		rules.NameCICDVsITSM,
		rules.NameAssessmentFields,
		rules.NameCabPreDeploy,
		rules.NameEvidence,
		rules.NameDoaAuthorization,
		rules.NameApprovedWindow,
	}, names)
}

func TestCompliantContextPassesEveryRule(t *testing.T) {
	c := testutil.CompliantContext("CHG-1001", base)
	for _, r := range ordered() {
		out := r.Evaluate(c)
		assert.True(t, out.Passed, "rule %s should pass on the compliant fixture", r.Name)
		assert.Empty(t, out.ReasonCode, "passing outcome must carry no reason code")
	}
}

func TestRuleFailures(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		mutate func(c *domain.ChangeContext)
		reason domain.ReasonCode
	}{
		{
			name: "no successful deployment",
			rule: rules.NameCICDVsITSM,
			mutate: func(c *domain.ChangeContext) {
				c.Deployments[0].Status = domain.DeploymentFailed
			},
			reason: domain.ReasonDeploymentUnlogged,
		},
		{
			name: "deployment logged but approval missing",
			rule: rules.NameCICDVsITSM,
			mutate: func(c *domain.ChangeContext) {
				c.Approvals[0].Status = domain.ApprovalPending
			},
			reason: domain.ReasonApprovalMissing,
		},
		{
			name: "work item reference missing",
			rule: rules.NameAssessmentFields,
			mutate: func(c *domain.ChangeContext) {
				c.Change.ChangeWI = ""
			},
			reason: domain.ReasonAssessmentFieldsMissing,
		},
		{
			name: "ci link missing",
			rule: rules.NameAssessmentFields,
			mutate: func(c *domain.ChangeContext) {
				c.Change.CILink = ""
			},
			reason: domain.ReasonAssessmentFieldsMissing,
		},
		{
			name: "no cab decision",
			rule: rules.NameCabPreDeploy,
			mutate: func(c *domain.ChangeContext) {
				c.Cab = nil
			},
			reason: domain.ReasonCabApprovalLateOrMissing,
		},
		{
			name: "cab decided after deployment started",
			rule: rules.NameCabPreDeploy,
			mutate: func(c *domain.ChangeContext) {
				c.Cab[0].DecidedAt = c.Deployments[0].StartedAt.Add(time.Minute)
			},
			reason: domain.ReasonCabApprovalLateOrMissing,
		},
		{
			name: "no evidence records",
			rule: rules.NameEvidence,
			mutate: func(c *domain.ChangeContext) {
				c.Evidence = nil
			},
			reason: domain.ReasonEvidenceMissing,
		},
		{
			name: "approver outside doa mandate",
			rule: rules.NameDoaAuthorization,
			mutate: func(c *domain.ChangeContext) {
				c.Doa[0].EffectiveTo = base.Add(-time.Hour)
			},
			reason: domain.ReasonDoaUnauthorized,
		},
		{
			name: "no approved approval to authorize",
			rule: rules.NameDoaAuthorization,
			mutate: func(c *domain.ChangeContext) {
				c.Approvals = nil
			},
			reason: domain.ReasonDoaUnauthorized,
		},
		{
			name: "deployment started before approval",
			rule: rules.NameApprovedWindow,
			mutate: func(c *domain.ChangeContext) {
				c.Deployments[0].StartedAt = base.Add(-time.Hour)
			},
			reason: domain.ReasonDeploymentOutsideWindow,
		},
		{
			name: "deployment finished after window end",
			rule: rules.NameApprovedWindow,
			mutate: func(c *domain.ChangeContext) {
				c.Deployments[0].FinishedAt = base.Add(testutil.DefaultHorizon + time.Minute)
			},
			reason: domain.ReasonDeploymentOutsideWindow,
		},
		{
			name: "deployments exist but no approved approval",
			rule: rules.NameApprovedWindow,
			mutate: func(c *domain.ChangeContext) {
				c.Approvals[0].Status = domain.ApprovalRejected
			},
			reason: domain.ReasonDeploymentOutsideWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.CompliantContext("CHG-1001", base)
			tt.mutate(&c)

			out := evaluate(t, tt.rule, c)
			assert.False(t, out.Passed)
			assert.Equal(t, tt.reason, out.ReasonCode)
			assert.False(t, out.EvaluatedAt.IsZero())
		})
	}
}

func TestVacuousPasses(t *testing.T) {
	t.Run("cab decision with no deployments", func(t *testing.T) {
		c := testutil.CompliantContext("CHG-1001", base)
		c.Deployments = nil

		out := evaluate(t, rules.NameCabPreDeploy, c)
		assert.True(t, out.Passed)
	})

	t.Run("approved window with no deployments", func(t *testing.T) {
		c := testutil.CompliantContext("CHG-1001", base)
		c.Deployments = nil

		out := evaluate(t, rules.NameApprovedWindow, c)
		assert.True(t, out.Passed)
	})
}

// Boundary times sit inside the window: a deployment starting exactly at
// approval and finishing exactly at the window end is compliant.
func TestApprovedWindowBoundaries(t *testing.T) {
	c := testutil.CompliantContext("CHG-1001", base)
	c.Deployments[0].StartedAt = base
	c.Deployments[0].FinishedAt = base.Add(testutil.DefaultHorizon)

	out := evaluate(t, rules.NameApprovedWindow, c)
	assert.True(t, out.Passed)
}

// A CAB decision at exactly the deployment start still counts as pre-deploy.
func TestCabDecisionAtDeploymentStart(t *testing.T) {
	c := testutil.CompliantContext("CHG-1001", base)
	c.Cab[0].DecidedAt = c.Deployments[0].StartedAt

	out := evaluate(t, rules.NameCabPreDeploy, c)
	assert.True(t, out.Passed)
}

// Rules see only the data handed to them: evaluating the same context twice
// yields identical pass/fail results.
func TestRulesAreDeterministic(t *testing.T) {
	c := testutil.CompliantContext("CHG-1001", base)
	c.Evidence = nil

	for _, r := range ordered() {
		first := r.Evaluate(c)
		second := r.Evaluate(c)
		assert.Equal(t, first.Passed, second.Passed, "rule %s", r.Name)
		assert.Equal(t, first.ReasonCode, second.ReasonCode, "rule %s", r.Name)
	}
}
