package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"DipRecovery/internal/store"
)

// Collector loads a Source into a fresh Dataset and publishes it.
type Collector struct {
	Source Source
	Store  *store.Store
	Log    *zap.Logger
}

// NewCollector creates a new Collector.
func NewCollector(src Source, st *store.Store, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{Source: src, Store: st, Log: log}
}

// Reload builds a complete dataset and swaps it in. On failure the
// previously published dataset stays in place.
func (c *Collector) Reload(ctx context.Context) (*store.Dataset, error) {
	started := time.Now()
	snap, err := c.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.Source.Name(), err)
	}
	if len(snap.Records) == 0 {
		return nil, fmt.Errorf("load %s: no price records", c.Source.Name())
	}

	ds := store.NewDataset(c.Source.Name(), snap.Records, snap.Companies, snap.Index)
	c.Store.Swap(ds)

	c.Log.Info("dataset reloaded",
		zap.String("source", ds.Source),
		zap.String("generation", ds.Generation),
		zap.Int("records", ds.TotalRecords),
		zap.Int("stocks", ds.UniqueStocks()),
		zap.Int("skipped", snap.Skipped),
		zap.Int("duplicates", ds.Duplicates),
		zap.Int("index_points", len(ds.Index())),
		zap.Duration("took", time.Since(started)))
	return ds, nil
}
