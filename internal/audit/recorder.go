// Package audit implements the append-only compliance trail. The recorder is
// fail-closed: an event that cannot be persisted aborts the operation that
// produced it, because an unrecorded state change is worse than a halted
// pipeline. No update or delete path exists.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"changegate/internal/domain"
	dErrors "changegate/pkg/domain-errors"
)

// Store persists audit events. Append must be atomic per event.
type Store interface {
	Append(ctx context.Context, event domain.AuditEvent) error
	ListByChange(ctx context.Context, id domain.ChangeID) ([]domain.AuditEvent, error)
}

// Publisher fans events out to downstream consumers (SIEM, reporting).
// Fan-out is best-effort and never fails the recorder.
type Publisher interface {
	Publish(ctx context.Context, event domain.AuditEvent)
}

// Recorder serializes writes per change so the (timestamp, seq) order holds
// under concurrent pipeline execution.
type Recorder struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[domain.ChangeID]*changeState
}

type changeState struct {
	mu   sync.Mutex
	next uint64
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithPublisher adds a best-effort fan-out sink.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithLogger sets a logger for fan-out diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		locks: make(map[domain.ChangeID]*changeState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) state(id domain.ChangeID) *changeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.locks[id]
	if !ok {
		st = &changeState{}
		r.locks[id] = st
	}
	return st
}

// Record appends one event. The per-change lock makes the sequence number
// assignment and the store append a single-writer section.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) error {
	st := r.state(event.ChangeID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Seq = st.next

	if err := r.store.Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditWrite, "append audit event")
	}
	st.next++

	if r.publisher != nil {
		r.publisher.Publish(ctx, event)
	}
	return nil
}

// Query returns the full timeline for a change ordered by (timestamp, seq).
func (r *Recorder) Query(ctx context.Context, id domain.ChangeID) ([]domain.AuditEvent, error) {
	events, err := r.store.ListByChange(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "query audit trail")
	}
	return events, nil
}
