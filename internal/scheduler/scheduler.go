package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"DipRecovery/internal/collector"
	"DipRecovery/internal/model"
	"DipRecovery/internal/notifier"
	"DipRecovery/internal/query"
	"DipRecovery/internal/recorder"
)

// Sender delivers chat messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler runs the periodic reload and answers chat commands.
type Scheduler struct {
	Cron       *cron.Cron
	Collector  *collector.Collector
	Engine     *query.Engine
	Notifier   Sender
	Recorder   recorder.Recorder
	Log        *zap.Logger
	DigestSize int
	Ctx        context.Context

	mu sync.Mutex
}

// NewScheduler creates a new Scheduler. sender may be nil.
func NewScheduler(ctx context.Context, col *collector.Collector, eng *query.Engine, sender Sender, rec recorder.Recorder, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		Collector:  col,
		Engine:     eng,
		Notifier:   sender,
		Recorder:   rec,
		Log:        log,
		DigestSize: 10,
		Ctx:        ctx,
	}
}

// RegisterAll registers the reload task.
func (s *Scheduler) RegisterAll(reloadCron string) error {
	if _, err := s.Cron.AddFunc(reloadCron, s.reloadTask); err != nil {
		return fmt.Errorf("register reload task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Log.Info("scheduler stopped")
}

// RunReloadNow executes the reload task immediately.
func (s *Scheduler) RunReloadNow() {
	s.reloadTask()
}

func (s *Scheduler) reloadTask() {
	if _, err := s.Reload(s.Ctx); err != nil {
		s.Log.Error("scheduled reload", zap.Error(err))
	}
}

// Reload loads a fresh dataset, records it and sends the digest. Concurrent
// calls are serialised.
func (s *Scheduler) Reload(ctx context.Context) (*model.DatasetStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	prev, err := s.Recorder.LastReload()
	if err != nil {
		s.Log.Warn("read last reload", zap.Error(err))
	}

	if _, err := s.Collector.Reload(ctx); err != nil {
		s.trySend(notifier.FormatReloadFailure(err))
		return nil, fmt.Errorf("reload dataset: %w", err)
	}

	f := query.Filter{Threshold: s.Engine.DefaultThreshold()}
	stats, err := s.Engine.GetStats(f)
	if err != nil {
		return nil, fmt.Errorf("dataset stats: %w", err)
	}
	results, err := s.Engine.GetSignificantDeclines(f)
	if err != nil {
		return nil, fmt.Errorf("significant declines: %w", err)
	}
	rs, err := s.Engine.GetRecoveryStats(f)
	if err != nil {
		return nil, fmt.Errorf("recovery stats: %w", err)
	}

	if err := s.Recorder.RecordReload(&recorder.ReloadEvent{
		Generation:   stats.Generation,
		Source:       stats.Source,
		LoadedAt:     stats.LoadedAt,
		TotalRecords: stats.TotalRecords,
		UniqueStocks: stats.UniqueStocks,
		DateRange:    stats.DateRange,
		Threshold:    f.Threshold,
		Declines:     len(results),
		Duration:     time.Since(started),
	}); err != nil {
		s.Log.Error("record reload", zap.Error(err))
	}
	if err := s.Recorder.RecordDeclines(stats.Generation, results); err != nil {
		s.Log.Error("record declines", zap.Error(err))
	}

	fresh := freshDeclines(results, prev)
	s.Log.Info("reload complete",
		zap.String("generation", stats.Generation),
		zap.Int("declines", len(results)),
		zap.Int("new_declines", len(fresh)))
	s.trySend(notifier.FormatDigest(stats, fresh, rs, f.Threshold, s.DigestSize))
	return stats, nil
}

// freshDeclines keeps the declines dated after the previous reload's last trading day.
func freshDeclines(results []model.RecoveryResult, prev *recorder.ReloadEvent) []model.RecoveryResult {
	if prev == nil || prev.DateRange.End.IsZero() {
		return nil
	}
	var out []model.RecoveryResult
	for _, r := range results {
		if r.Event.Date.After(prev.DateRange.End) {
			out = append(out, r)
		}
	}
	return out
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	threshold := s.Engine.DefaultThreshold()

	switch strings.ToLower(fields[0]) {
	case "/stats":
		stats, err := s.Engine.GetStats(query.Filter{Threshold: threshold})
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatDatasetStats(stats, threshold)
	case "/declines":
		f := query.Filter{Threshold: threshold}
		if len(fields) > 1 {
			f.Symbol = fields[1]
		}
		results, err := s.Engine.GetSignificantDeclines(f)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatDeclines(results, s.DigestSize)
	case "/recovery":
		rs, err := s.Engine.GetRecoveryStats(query.Filter{Threshold: threshold})
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatRecoveryStats(rs, threshold)
	case "/reload":
		// Reload reports both outcomes to the chat itself.
		if _, err := s.Reload(ctx); err != nil {
			s.Log.Error("reload from chat", zap.Error(err))
		}
		return ""
	default:
		return helpText
	}
}

const helpText = "Commands:\n• /stats\n• /declines [SYMBOL]\n• /recovery\n• /reload"

func replyError(err error) string {
	if errors.Is(err, query.ErrDataUnavailable) {
		return "⚠️ dataset not loaded"
	}
	return "❌ " + err.Error()
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.Log.Error("send notification", zap.Error(err))
	}
}
