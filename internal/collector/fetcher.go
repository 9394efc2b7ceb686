package collector

import (
	"context"
	"maps"
	"slices"

	"DipRecovery/internal/model"
)

// Snapshot is everything a Source loads in one pass.
type Snapshot struct {
	Records   []model.PriceRecord
	Companies map[string]string
	Index     []model.IndexPoint

	// Skipped counts rows dropped for an unusable date, symbol or close.
	Skipped int
}

// Source loads the raw price table.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
	Name() string
}

// MockSource returns a fixed snapshot, for development and testing.
type MockSource struct {
	Snapshot *Snapshot
	Err      error
	Calls    int
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Load(ctx context.Context) (*Snapshot, error) {
	m.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Snapshot == nil {
		return &Snapshot{}, nil
	}
	snap := *m.Snapshot
	snap.Records = slices.Clone(m.Snapshot.Records)
	snap.Companies = maps.Clone(m.Snapshot.Companies)
	snap.Index = slices.Clone(m.Snapshot.Index)
	return &snap, nil
}
