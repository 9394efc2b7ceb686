package recorder

import "DipRecovery/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordReload(_ *ReloadEvent) error                        { return nil }
func (n *NoopRecorder) RecordDeclines(_ string, _ []model.RecoveryResult) error { return nil }
func (n *NoopRecorder) LastReload() (*ReloadEvent, error)                       { return nil, nil }
func (n *NoopRecorder) Close() error                                            { return nil }
