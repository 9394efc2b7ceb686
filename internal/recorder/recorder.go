package recorder

import (
	"time"

	"DipRecovery/internal/model"
)

// ReloadEvent describes one successful dataset reload.
type ReloadEvent struct {
	Generation   string
	Source       string
	LoadedAt     time.Time
	TotalRecords int
	UniqueStocks int
	DateRange    model.DateRange
	Threshold    float64
	Declines     int
	Duration     time.Duration
}

// Recorder persists reload history and the declines found by each reload.
type Recorder interface {
	RecordReload(evt *ReloadEvent) error
	RecordDeclines(generation string, results []model.RecoveryResult) error
	// LastReload returns the most recent reload, or nil when none was recorded.
	LastReload() (*ReloadEvent, error)
	Close() error
}
