package calculator

import (
	"math"
	"slices"

	"github.com/guregu/null/v6"

	"DipRecovery/internal/model"
)

// DefaultRecoveryTargets are the recovery thresholds, in percent above the baseline.
var DefaultRecoveryTargets = []int{10, 20, 30, 40, 50, 75, 100}

// NormalizeTargets returns targets sorted ascending without duplicates.
func NormalizeTargets(targets []int) []int {
	out := slices.Clone(targets)
	slices.Sort(out)
	return slices.Compact(out)
}

// priceEpsilon absorbs float error so an open equal to the target counts as reached.
const priceEpsilon = 1e-9

// TargetPrice returns the price that recovers pct percent above baseline.
func TargetPrice(baseline float64, pct int) float64 {
	return baseline * (1 + float64(pct)/100)
}

// CalculateRecovery walks the series forward from the decline day once and
// records, for each target, how many records were advanced before the open
// first reached baseline×(1+target/100). The baseline is the decline-day open.
// targets must be ascending (see NormalizeTargets).
func CalculateRecovery(series *model.SymbolSeries, event model.DeclineEvent, targets []int) model.RecoveryResult {
	res := model.RecoveryResult{
		Event:    event,
		Recovery: make([]model.TargetDays, len(targets)),
	}
	for k, t := range targets {
		res.Recovery[k] = model.TargetDays{TargetPct: t}
	}
	if series == nil || len(targets) == 0 {
		return res
	}

	baseline := event.CurrentOpen
	next := 0 // first target not reached yet
	for i := event.Index + 1; i < len(series.Records) && next < len(targets); i++ {
		open := series.Records[i].Open
		if !model.ValidPrice(open) {
			continue
		}
		for next < len(targets) && reached(open.Float64, TargetPrice(baseline, targets[next])) {
			res.Recovery[next].Days = null.IntFrom(int64(i - event.Index))
			next++
		}
	}
	return res
}

func reached(price, target float64) bool {
	return price >= target-math.Abs(target)*priceEpsilon
}
