package calculator

import (
	"slices"

	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"DipRecovery/internal/model"
)

// DefaultSuccessWindows are the time-boxed success rates reported with recovery stats.
var DefaultSuccessWindows = []model.SuccessWindow{
	{TargetPct: 10, Days: 30},
	{TargetPct: 10, Days: 60},
	{TargetPct: 20, Days: 30},
	{TargetPct: 20, Days: 60},
	{TargetPct: 30, Days: 90},
}

// Summarize aggregates recovery results per target and per success window.
// An empty input yields zero counts and absent averages.
func Summarize(results []model.RecoveryResult, targets []int, windows []model.SuccessWindow) model.RecoveryStats {
	total := len(results)
	out := model.RecoveryStats{
		TotalEvents: total,
		Targets:     make([]model.TargetStats, 0, len(targets)),
		Windows:     make([]model.WindowRate, 0, len(windows)),
	}

	for _, t := range targets {
		days := reachedDays(results, t)
		ts := model.TargetStats{
			TargetPct:    t,
			ReachedCount: len(days),
			TotalCount:   total,
			ReachedRate:  ratio(len(days), total),
		}
		if len(days) > 0 {
			ts.AverageDays = null.FloatFrom(stat.Mean(days, nil))
			ts.MedianDays = null.FloatFrom(Median(days))
			ts.MinDays = null.IntFrom(int64(floats.Min(days)))
			ts.MaxDays = null.IntFrom(int64(floats.Max(days)))
		}
		out.Targets = append(out.Targets, ts)
	}

	for _, w := range windows {
		count := 0
		for i := range results {
			if d := results[i].DaysFor(w.TargetPct); d.Valid && d.Int64 <= int64(w.Days) {
				count++
			}
		}
		out.Windows = append(out.Windows, model.WindowRate{
			SuccessWindow: w,
			Count:         count,
			Total:         total,
			Rate:          ratio(count, total),
		})
	}
	return out
}

// Median returns the middle value of xs, averaging the two middle values for even lengths.
// xs is not modified. Returns 0 for an empty slice.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func reachedDays(results []model.RecoveryResult, target int) []float64 {
	var days []float64
	for i := range results {
		if d := results[i].DaysFor(target); d.Valid {
			days = append(days, float64(d.Int64))
		}
	}
	return days
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
