// Package exception converts failing rule outcomes into reviewable exception
// records and owns their single state transition: open -> justified.
package exception

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"changegate/internal/audit"
	"changegate/internal/domain"
	dErrors "changegate/pkg/domain-errors"
)

// Store persists exceptions. Update is only ever called for the open ->
// justified transition; historical fields are never rewritten.
type Store interface {
	Create(ctx context.Context, exc *domain.Exception) error
	Get(ctx context.Context, id string) (*domain.Exception, error)
	Update(ctx context.Context, exc *domain.Exception) error
	ListByChange(ctx context.Context, id domain.ChangeID) ([]*domain.Exception, error)
}

// Recommender is the external AI collaborator. Calls are best-effort and
// bounded by the service's timeout; a failure yields a nil recommendation,
// never a pipeline failure.
type Recommender interface {
	Recommend(ctx context.Context, reason domain.ReasonCode, summary string) (string, error)
}

type Service struct {
	store       Store
	recommender Recommender
	recorder    *audit.Recorder
	logger      *slog.Logger
	timeout     time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithRecommender wires the AI recommendation collaborator.
func WithRecommender(r Recommender) Option {
	return func(s *Service) { s.recommender = r }
}

// WithRecommendTimeout bounds recommendation calls.
func WithRecommendTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(store Store, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "exception store is required")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "audit recorder is required")
	}
	s := &Service{
		store:    store,
		recorder: recorder,
		logger:   logger,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle converts a failing outcome into an open Exception. Passing outcomes
// return nil. The audit write is fail-closed: if it cannot be recorded the
// whole operation errors.
func (s *Service) Handle(ctx context.Context, outcome domain.RuleOutcome, changeID domain.ChangeID, summary string) (*domain.Exception, error) {
	if outcome.Passed {
		return nil, nil
	}

	exc := &domain.Exception{
		ID:         uuid.NewString(),
		ChangeID:   changeID,
		RuleName:   outcome.RuleName,
		ReasonCode: outcome.ReasonCode,
		Status:     domain.ExceptionOpen,
		RaisedAt:   time.Now().UTC(),
	}

	if s.recommender != nil {
		exc.Recommendation = s.requestRecommendation(ctx, outcome.ReasonCode, summary)
	}

	if err := s.store.Create(ctx, exc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store exception")
	}

	if err := s.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: changeID,
		Step:     domain.StepExceptionRaised,
		Action:   domain.ActionExceptionRaised,
		Details: map[string]string{
			"exception_id": exc.ID,
			"rule":         exc.RuleName,
			"reason_code":  string(exc.ReasonCode),
		},
	}); err != nil {
		return nil, err
	}
	return exc, nil
}

// requestRecommendation degrades to nil on timeout or collaborator error.
func (s *Service) requestRecommendation(ctx context.Context, reason domain.ReasonCode, summary string) *string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.recommender.Recommend(ctx, reason, summary)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "recommendation unavailable",
				"reason_code", reason,
				"error", err,
			)
		}
		return nil
	}
	return &text
}

// Justify closes an open exception with the reviewer's text. A second call
// fails with an already_justified error and leaves the first text in place.
func (s *Service) Justify(ctx context.Context, exceptionID, reviewerID, text string) (*domain.Exception, error) {
	if text == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "justification text is required")
	}

	exc, err := s.store.Get(ctx, exceptionID)
	if err != nil {
		return nil, err
	}
	if exc.Status != domain.ExceptionOpen {
		return nil, dErrors.New(dErrors.CodeAlreadyJustified, "exception is already justified")
	}

	now := time.Now().UTC()
	exc.Status = domain.ExceptionJustified
	exc.Justification = &text
	exc.JustifiedAt = &now
	if reviewerID != "" {
		exc.JustifiedBy = &reviewerID
	}

	if err := s.store.Update(ctx, exc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update exception")
	}

	if err := s.recorder.Record(ctx, domain.AuditEvent{
		ChangeID: exc.ChangeID,
		Step:     domain.StepExceptionJustified,
		Action:   domain.ActionExceptionJustified,
		Details: map[string]string{
			"exception_id": exc.ID,
			"rule":         exc.RuleName,
			"reviewer":     reviewerID,
		},
	}); err != nil {
		return nil, err
	}
	return exc, nil
}

// ListByChange returns all exceptions raised for a change.
func (s *Service) ListByChange(ctx context.Context, id domain.ChangeID) ([]*domain.Exception, error) {
	return s.store.ListByChange(ctx, id)
}
