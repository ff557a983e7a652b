package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/audit"
	"changegate/internal/audit/store/memory"
	"changegate/internal/domain"
	dErrors "changegate/pkg/domain-errors"
)

func TestRecordAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	recorder := audit.NewRecorder(memory.NewInMemoryStore())

	for i := 0; i < 5; i++ {
		err := recorder.Record(ctx, domain.AuditEvent{
			ChangeID: "CHG-1",
			Step:     domain.StepRuleEvaluating,
			Action:   domain.ActionRulePassed,
		})
		require.NoError(t, err)
	}

	events, err := recorder.Query(ctx, "CHG-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, uint64(i), e.Seq)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestSequencesAreIndependentPerChange(t *testing.T) {
	ctx := context.Background()
	recorder := audit.NewRecorder(memory.NewInMemoryStore())

	for _, id := range []domain.ChangeID{"CHG-1", "CHG-2", "CHG-1"} {
		require.NoError(t, recorder.Record(ctx, domain.AuditEvent{
			ChangeID: id,
			Step:     domain.StepIngested,
			Action:   domain.ActionIngested,
		}))
	}

	first, err := recorder.Query(ctx, "CHG-1")
	require.NoError(t, err)
	second, err := recorder.Query(ctx, "CHG-2")
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, uint64(0), first[0].Seq)
	assert.Equal(t, uint64(1), first[1].Seq)
	assert.Equal(t, uint64(0), second[0].Seq)
}

func TestConcurrentRecordsKeepDenseSequence(t *testing.T) {
	ctx := context.Background()
	recorder := audit.NewRecorder(memory.NewInMemoryStore())

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recorder.Record(ctx, domain.AuditEvent{
				ChangeID: "CHG-1",
				Step:     domain.StepRuleEvaluating,
				Action:   domain.ActionRulePassed,
			})
		}()
	}
	wg.Wait()

	events, err := recorder.Query(ctx, "CHG-1")
	require.NoError(t, err)
	require.Len(t, events, writers)

	seen := make(map[uint64]bool, writers)
	for _, e := range events {
		seen[e.Seq] = true
	}
	for i := uint64(0); i < writers; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
}

type failingStore struct {
	audit.Store
	fail bool
}

func (s *failingStore) Append(ctx context.Context, event domain.AuditEvent) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Append(ctx, event)
}

func TestRecordIsFailClosed(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.NewInMemoryStore(), fail: true}
	recorder := audit.NewRecorder(store)

	err := recorder.Record(ctx, domain.AuditEvent{
		ChangeID: "CHG-1",
		Step:     domain.StepIngested,
		Action:   domain.ActionIngested,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuditWrite))

	// A failed append must not consume a sequence number.
	store.fail = false
	require.NoError(t, recorder.Record(ctx, domain.AuditEvent{
		ChangeID: "CHG-1",
		Step:     domain.StepIngested,
		Action:   domain.ActionIngested,
	}))
	events, err := recorder.Query(ctx, "CHG-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].Seq)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (p *capturingPublisher) Publish(_ context.Context, event domain.AuditEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func TestPublisherReceivesPersistedEvents(t *testing.T) {
	ctx := context.Background()
	pub := &capturingPublisher{}
	recorder := audit.NewRecorder(memory.NewInMemoryStore(), audit.WithPublisher(pub))

	require.NoError(t, recorder.Record(ctx, domain.AuditEvent{
		ChangeID: "CHG-1",
		Step:     domain.StepVerdictComputed,
		Action:   domain.ActionVerdictComputed,
	}))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, uint64(0), pub.events[0].Seq)
}

func TestFailedAppendSkipsPublish(t *testing.T) {
	ctx := context.Background()
	pub := &capturingPublisher{}
	store := &failingStore{Store: memory.NewInMemoryStore(), fail: true}
	recorder := audit.NewRecorder(store, audit.WithPublisher(pub))

	err := recorder.Record(ctx, domain.AuditEvent{
		ChangeID: "CHG-1",
		Step:     domain.StepIngested,
		Action:   domain.ActionIngested,
	})
	require.Error(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.events, "unpersisted events must never fan out")
}
