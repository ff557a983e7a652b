// Package memory provides an in-memory fixture adapter for tests and local
// runs. Data is loaded once at construction and treated as an immutable
// snapshot.
package memory

import (
	"context"
	"sort"
	"sync"

	"changegate/internal/domain"
	"changegate/internal/source"
)

type Adapter struct {
	mu        sync.RWMutex
	version   string
	bundles   map[domain.ChangeID]source.Bundle
	dashboard map[domain.ChangeID]domain.ChangeRecord

	// faults maps a change to an error its Fetch should return, so tests
	// can model malformed rows for one change without touching the rest.
	faults map[domain.ChangeID]error
}

func New(version string) *Adapter {
	return &Adapter{
		version:   version,
		bundles:   make(map[domain.ChangeID]source.Bundle),
		dashboard: make(map[domain.ChangeID]domain.ChangeRecord),
		faults:    make(map[domain.ChangeID]error),
	}
}

// SeedBundle registers the related rows for a change.
func (a *Adapter) SeedBundle(id domain.ChangeID, b source.Bundle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bundles[id] = b
}

// SeedDashboard registers the ITSM dashboard row for a change.
func (a *Adapter) SeedDashboard(rec domain.ChangeRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dashboard[rec.ID] = rec
}

// SeedFault makes Fetch fail for one change with the given error.
func (a *Adapter) SeedFault(id domain.ChangeID, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[id] = err
}

func (a *Adapter) Fetch(_ context.Context, id domain.ChangeID) (source.Bundle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err, ok := a.faults[id]; ok {
		return source.Bundle{}, err
	}
	// Missing-but-valid absence yields empty slices, not an error.
	return a.bundles[id], nil
}

func (a *Adapter) DashboardRecord(_ context.Context, id domain.ChangeID) (domain.ChangeRecord, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.dashboard[id]
	return rec, ok, nil
}

// Population lists every seeded dashboard row, ordered by change ID.
func (a *Adapter) Population(_ context.Context) ([]domain.ChangeRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.ChangeRecord, 0, len(a.dashboard))
	for _, rec := range a.dashboard {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) SnapshotVersion() string { return a.version }
