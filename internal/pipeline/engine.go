// Package pipeline sequences the compliance checks for a population of change
// records and produces one verdict per change. Per-change runs are
// independent and execute on a bounded worker pool; rule order within a
// change is fixed and strictly sequential.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"changegate/internal/audit"
	"changegate/internal/domain"
	"changegate/internal/exception"
	"changegate/internal/pipeline/rules"
	"changegate/internal/platform/metrics"
	"changegate/internal/remediation"
	"changegate/internal/source"
	"changegate/internal/verdictcache"
	dErrors "changegate/pkg/domain-errors"
)

const defaultWorkers = 8

// Engine runs the validation pipeline.
type Engine struct {
	adapter     source.Adapter
	rules       []rules.Rule
	exceptions  *exception.Service
	recorder    *audit.Recorder
	remediation remediation.Trigger
	cache       *verdictcache.Cache
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	workers   int
	reconcile bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithWorkers bounds the worker pool for a population run.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithVerdictCache enables snapshot-keyed verdict caching.
func WithVerdictCache(c *verdictcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDashboardReconciliation enables the IPE equality check against the ITSM
// dashboard snapshot.
func WithDashboardReconciliation(enabled bool) Option {
	return func(e *Engine) { e.reconcile = enabled }
}

func New(
	adapter source.Adapter,
	ruleSet []rules.Rule,
	exceptions *exception.Service,
	recorder *audit.Recorder,
	trigger remediation.Trigger,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	if adapter == nil {
		return nil, fmt.Errorf("source adapter is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if exceptions == nil {
		return nil, fmt.Errorf("exception service is required")
	}
	if trigger == nil {
		trigger = remediation.Noop{}
	}
	e := &Engine{
		adapter:     adapter,
		rules:       ruleSet,
		exceptions:  exceptions,
		recorder:    recorder,
		remediation: trigger,
		logger:      logger,
		tracer:      otel.Tracer("changegate/pipeline"),
		workers:     defaultWorkers,
		reconcile:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run validates the population and returns one verdict per change, in input
// order. Per-change faults are isolated; the only error class that aborts the
// batch is an audit write failure, because continuing would leave state
// changes off the compliance record. Cancellation takes effect between
// changes: a change either runs its full sequence or is never started.
func (e *Engine) Run(ctx context.Context, population []domain.ChangeRecord) ([]domain.Verdict, error) {
	seen := make(map[domain.ChangeID]int, len(population))
	for _, change := range population {
		seen[change.ID]++
	}

	verdicts := make([]domain.Verdict, len(population))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, change := range population {
		g.Go(func() error {
			// Cooperative checkpoint: never start a change on a dead
			// context, never stop one mid-sequence.
			if err := gctx.Err(); err != nil {
				return err
			}
			verdict, err := e.runChange(gctx, change, seen[change.ID] > 1)
			if err != nil {
				return err
			}
			verdicts[i] = verdict
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeAuditWrite) && e.metrics != nil {
			e.metrics.AuditWriteFailures.Inc()
		}
		return nil, err
	}
	return verdicts, nil
}

func (e *Engine) runChange(ctx context.Context, change domain.ChangeRecord, duplicate bool) (domain.Verdict, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "pipeline.change",
		trace.WithAttributes(attribute.String("change_id", string(change.ID))),
	)
	defer span.End()
	defer func() {
		if e.metrics != nil {
			e.metrics.ChangeRunDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if e.cache != nil {
		if verdict, ok := e.cache.Get(ctx, change.ID, e.adapter.SnapshotVersion()); ok {
			if e.metrics != nil {
				e.metrics.VerdictCacheHits.Inc()
			}
			return verdict, nil
		}
	}

	if err := e.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: change.ID,
		Step:     domain.StepIngested,
		Action:   domain.ActionIngested,
	}); err != nil {
		return domain.Verdict{}, err
	}

	if details, ok := e.precheck(ctx, change, duplicate); !ok {
		return e.block(ctx, change, details)
	}

	if err := e.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: change.ID,
		Step:     domain.StepIPEChecked,
		Action:   domain.ActionIPEPassed,
	}); err != nil {
		return domain.Verdict{}, err
	}

	bundle, fetchErr := e.adapter.Fetch(ctx, change.ID)
	if fetchErr != nil {
		e.logger.WarnContext(ctx, "source fetch failed, rules degrade to evaluation_error",
			"change_id", change.ID,
			"error", fetchErr,
		)
	}
	cc := domain.ChangeContext{
		Change:      change,
		Approvals:   bundle.Approvals,
		Deployments: bundle.Deployments,
		Evidence:    bundle.Evidence,
		Cab:         bundle.Cab,
		Doa:         bundle.Doa,
	}

	outcomes := make([]domain.RuleOutcome, 0, len(e.rules))
	var failed []domain.RuleOutcome
	for _, rule := range e.rules {
		outcome := safeEvaluate(rule, cc, fetchErr)
		outcomes = append(outcomes, outcome)

		if err := e.recordOutcome(ctx, change.ID, outcome); err != nil {
			return domain.Verdict{}, err
		}
		if outcome.Passed {
			continue
		}
		failed = append(failed, outcome)
		if e.metrics != nil {
			e.metrics.RuleFailuresTotal.WithLabelValues(outcome.RuleName, string(outcome.ReasonCode)).Inc()
		}
	}

	verdict := domain.Verdict{
		ChangeID:   change.ID,
		Status:     domain.StatusPassed,
		Outcomes:   outcomes,
		ComputedAt: time.Now().UTC(),
	}
	if len(failed) > 0 {
		verdict.Status = domain.StatusFailedWithExceptions
	}

	if err := e.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: change.ID,
		Step:     domain.StepVerdictComputed,
		Action:   domain.ActionVerdictComputed,
		Details:  map[string]string{"status": string(verdict.Status)},
	}); err != nil {
		return domain.Verdict{}, err
	}

	// Exceptions open after the verdict is on the trail, so a change's
	// timeline always reads rule events, then verdict, then its exceptions.
	for _, outcome := range failed {
		exc, err := e.exceptions.Handle(ctx, outcome, change.ID, summarize(cc))
		if err != nil {
			return domain.Verdict{}, err
		}
		if e.metrics != nil {
			e.metrics.ExceptionsRaisedTotal.Inc()
			if exc != nil && exc.Recommendation == nil {
				e.metrics.RecommendationMisses.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.VerdictsTotal.WithLabelValues(string(verdict.Status)).Inc()
	}
	if e.cache != nil {
		e.cache.Put(ctx, e.adapter.SnapshotVersion(), verdict)
	}
	return verdict, nil
}

// block emits the blocked verdict for an IPE failure: one ipe_failed audit
// event, one remediation trigger, no rule outcomes and no reason codes.
func (e *Engine) block(ctx context.Context, change domain.ChangeRecord, details map[string]string) (domain.Verdict, error) {
	if err := e.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: change.ID,
		Step:     domain.StepIPEChecked,
		Action:   domain.ActionIPEFailed,
		Details:  details,
	}); err != nil {
		return domain.Verdict{}, err
	}

	e.remediation.Trigger(ctx, change.ID, details)

	if e.metrics != nil {
		e.metrics.IPEBlockedTotal.Inc()
		e.metrics.VerdictsTotal.WithLabelValues(string(domain.StatusBlocked)).Inc()
	}
	return domain.Verdict{
		ChangeID:   change.ID,
		Status:     domain.StatusBlocked,
		ComputedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) recordOutcome(ctx context.Context, id domain.ChangeID, outcome domain.RuleOutcome) error {
	action := domain.ActionRulePassed
	details := map[string]string{"rule": outcome.RuleName}
	if !outcome.Passed {
		action = domain.ActionRuleFailed
		details["reason_code"] = string(outcome.ReasonCode)
	}
	return e.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: id,
		Step:     domain.StepRuleEvaluating,
		Action:   action,
		Details:  details,
	})
}

// safeEvaluate isolates rule faults: an adapter failure or a panicking rule
// becomes an evaluation_error outcome instead of aborting the batch.
func safeEvaluate(rule rules.Rule, cc domain.ChangeContext, fetchErr error) (outcome domain.RuleOutcome) {
	evaluationError := domain.RuleOutcome{
		RuleName:    rule.Name,
		Passed:      false,
		ReasonCode:  domain.ReasonEvaluationError,
		EvaluatedAt: time.Now().UTC(),
	}
	if fetchErr != nil {
		return evaluationError
	}
	defer func() {
		if r := recover(); r != nil {
			outcome = evaluationError
		}
	}()
	return rule.Evaluate(cc)
}

// summarize produces the non-sensitive change summary handed to the AI
// recommendation collaborator.
func summarize(cc domain.ChangeContext) string {
	return fmt.Sprintf("change %s (work item %q, ci %q): %d approvals, %d deployments, %d evidence records, %d cab decisions",
		cc.Change.ID, cc.Change.ChangeWI, cc.Change.CILink,
		len(cc.Approvals), len(cc.Deployments), len(cc.Evidence), len(cc.Cab),
	)
}
