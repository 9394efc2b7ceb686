package notifier

import (
	"cmp"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"DipRecovery/internal/model"
)

// FormatDatasetStats formats the loaded dataset summary.
func FormatDatasetStats(s *model.DatasetStats, threshold float64) string {
	var b strings.Builder
	b.WriteString("📦 <b>Dataset</b>\n\n")
	b.WriteString(fmt.Sprintf("Records: %s\n", humanize.Comma(int64(s.TotalRecords))))
	b.WriteString(fmt.Sprintf("Stocks: %d\n", s.UniqueStocks))
	b.WriteString(fmt.Sprintf("Range: %s → %s\n", formatDate(s.DateRange.Start), formatDate(s.DateRange.End)))
	b.WriteString(fmt.Sprintf("Declines ≤ %.0f%%: %s\n", threshold, humanize.Comma(int64(s.SignificantDeclines))))
	if w := s.WorstDecline; w != nil {
		b.WriteString(fmt.Sprintf("Worst day: %s %s %.2f%%\n", w.Symbol, formatDate(w.Date), w.DeclinePct))
	}
	b.WriteString(fmt.Sprintf("Loaded: %s (%s)\n", humanize.Time(s.LoadedAt), s.Source))
	return b.String()
}

// FormatRecoveryStats formats per-target averages and the success windows.
func FormatRecoveryStats(s *model.RecoveryStats, threshold float64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>Recovery after declines ≤ %.0f%%</b> (%d events)\n\n", threshold, s.TotalEvents))
	if s.TotalEvents == 0 {
		b.WriteString("No declines in range.\n")
		return b.String()
	}
	for _, t := range s.Targets {
		if !t.AverageDays.Valid {
			b.WriteString(fmt.Sprintf("  +%d%%: never reached\n", t.TargetPct))
			continue
		}
		b.WriteString(fmt.Sprintf("  +%d%%: avg %.1fd, median %.1fd (%d/%d, %.1f%%)\n",
			t.TargetPct, t.AverageDays.Float64, t.MedianDays.Float64,
			t.ReachedCount, t.TotalCount, t.ReachedRate*100))
	}
	if len(s.Windows) > 0 {
		b.WriteString("\n⏱ <b>Success rates</b>\n")
		for _, w := range s.Windows {
			b.WriteString(fmt.Sprintf("  +%d%% within %dd: %.1f%% (%d)\n", w.TargetPct, w.Days, w.Rate*100, w.Count))
		}
	}
	return b.String()
}

// FormatDeclines lists the limit steepest declines with their recovery days.
func FormatDeclines(results []model.RecoveryResult, limit int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📉 <b>Largest declines</b> (%d total)\n\n", len(results)))
	if len(results) == 0 {
		b.WriteString("None.\n")
		return b.String()
	}
	for _, r := range steepest(results, limit) {
		ev := r.Event
		b.WriteString(fmt.Sprintf("<b>%s</b> %s | %s | %.2f%% (%.2f → %.2f)",
			ev.Symbol, html.EscapeString(ev.CompanyName), formatDate(ev.Date),
			ev.DeclinePct, ev.PrevOpen, ev.CurrentOpen))
		if ev.Volume.Valid {
			b.WriteString(fmt.Sprintf(" vol %s", humanize.Comma(ev.Volume.Int64)))
		}
		b.WriteString("\n   ")
		b.WriteString(formatRecovery(r.Recovery))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatDigest is the reload message: dataset summary, the newest declines and recovery averages.
func FormatDigest(stats *model.DatasetStats, fresh []model.RecoveryResult, rs *model.RecoveryStats, threshold float64, limit int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔄 <b>DipRecovery digest</b> | %s\n\n", time.Now().Format(model.DateLayout)))
	b.WriteString(FormatDatasetStats(stats, threshold))
	b.WriteString("\n")
	if len(fresh) == 0 {
		b.WriteString("No new declines since the last reload.\n")
	} else {
		b.WriteString(fmt.Sprintf("🆕 %d new decline(s)\n", len(fresh)))
		b.WriteString(FormatDeclines(fresh, limit))
	}
	b.WriteString("\n")
	b.WriteString(FormatRecoveryStats(rs, threshold))
	return b.String()
}

// FormatReloadFailure reports a failed reload.
func FormatReloadFailure(err error) string {
	return fmt.Sprintf("❌ <b>Reload failed</b>\n\n%s", html.EscapeString(err.Error()))
}

func formatRecovery(recovery []model.TargetDays) string {
	parts := make([]string, 0, len(recovery))
	for _, td := range recovery {
		if td.Days.Valid {
			parts = append(parts, fmt.Sprintf("+%d%%: %dd", td.TargetPct, td.Days.Int64))
		} else {
			parts = append(parts, fmt.Sprintf("+%d%%: –", td.TargetPct))
		}
	}
	return strings.Join(parts, " | ")
}

func steepest(results []model.RecoveryResult, limit int) []model.RecoveryResult {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b model.RecoveryResult) int {
		return cmp.Compare(a.Event.DeclinePct, b.Event.DeclinePct)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(model.DateLayout)
}
