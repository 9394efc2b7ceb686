package calculator

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DipRecovery/internal/model"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seriesFromOpens builds a daily series; NaN opens become missing values.
func seriesFromOpens(symbol string, opens ...float64) *model.SymbolSeries {
	s := &model.SymbolSeries{Symbol: symbol, CompanyName: symbol + " Inc"}
	for i, o := range opens {
		r := model.PriceRecord{
			Symbol: symbol,
			Date:   day0.AddDate(0, 0, i),
			Volume: null.IntFrom(1000),
		}
		if !math.IsNaN(o) {
			r.Open = null.FloatFrom(o)
			r.Close = null.FloatFrom(o)
		}
		s.Records = append(s.Records, r)
	}
	return s
}

func TestDetectDeclines_Scenario(t *testing.T) {
	s := seriesFromOpens("ABC", 100, 70, 80, 91, 105)

	events := slices.Collect(DetectDeclines(s, DefaultDeclineThreshold))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, day0.AddDate(0, 0, 1), ev.Date)
	assert.InDelta(t, -30.0, ev.DeclinePct, 1e-9)
	assert.Equal(t, 100.0, ev.PrevOpen)
	assert.Equal(t, 70.0, ev.CurrentOpen)
	assert.Equal(t, 1, ev.Index)
	assert.Equal(t, "ABC Inc", ev.CompanyName)
}

func TestCalculateRecovery_Scenario(t *testing.T) {
	s := seriesFromOpens("ABC", 100, 70, 80, 91, 105)
	ev := slices.Collect(DetectDeclines(s, -20))[0]

	res := CalculateRecovery(s, ev, DefaultRecoveryTargets)
	require.Len(t, res.Recovery, len(DefaultRecoveryTargets))

	tests := []struct {
		target int
		days   int64
		ok     bool
	}{
		{10, 1, true}, // 80 already clears 77
		{20, 2, true},
		{30, 2, true},
		{40, 3, true},
		{50, 3, true},
		{75, 0, false},
		{100, 0, false},
	}
	for _, tt := range tests {
		d := res.DaysFor(tt.target)
		assert.Equal(t, tt.ok, d.Valid, "target %d", tt.target)
		if tt.ok {
			assert.Equal(t, tt.days, d.Int64, "target %d", tt.target)
		}
	}
}

func TestDetectDeclines_FormulaMatches(t *testing.T) {
	opens := []float64{50, 41.3, 41.3, 12.7, 88.1, 0.5, 3, 2.9999}
	s := seriesFromOpens("X", opens...)
	n := 0
	for ev := range DetectDeclines(s, math.MaxFloat64) {
		n++
		prev, cur := opens[ev.Index-1], opens[ev.Index]
		assert.InDelta(t, (cur-prev)/prev*100, ev.DeclinePct, 1e-9)
	}
	assert.Equal(t, len(opens)-1, n)
}

func TestDetectDeclines_SkipsMissingAndZeroOpens(t *testing.T) {
	s := seriesFromOpens("GAP", 100, math.NaN(), 50, 0, 10, 5)

	events := slices.Collect(DetectDeclines(s, -20))
	// 100->NaN, NaN->50, 50->0 and 0->10 are all skipped; only 10->5 qualifies.
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Index)
	assert.InDelta(t, -50.0, events[0].DeclinePct, 1e-9)
}

func TestDetectDeclines_ThresholdComposition(t *testing.T) {
	s := seriesFromOpens("T", 100, 90, 90, 95, 40, math.NaN(), 30)

	// usable transitions: 100->90, 90->90, 90->95, 95->40
	all := slices.Collect(DetectDeclines(s, math.MaxFloat64))
	assert.Len(t, all, 4)

	nonRising := slices.Collect(DetectDeclines(s, 0))
	assert.Len(t, nonRising, 3, "threshold 0 drops only the rising day")
	for _, ev := range nonRising {
		assert.LessOrEqual(t, ev.DeclinePct, 0.0)
	}

	// an open can never fall by more than 100% while staying positive
	assert.Empty(t, slices.Collect(DetectDeclines(s, -100)))
}

func TestDetectDeclines_FirstRecordAndEmpty(t *testing.T) {
	assert.Empty(t, slices.Collect(DetectDeclines(seriesFromOpens("ONE", 10), 0)))
	assert.Empty(t, slices.Collect(DetectDeclines(&model.SymbolSeries{}, 0)))
	assert.Empty(t, slices.Collect(DetectDeclines(nil, 0)))
}

func TestDetectDeclines_StopsWhenConsumerStops(t *testing.T) {
	s := seriesFromOpens("MANY", 100, 50, 100, 50, 100, 50)
	n := 0
	for range DetectDeclines(s, -20) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestCalculateRecovery_LastDayEvent(t *testing.T) {
	s := seriesFromOpens("END", 100, 60)
	ev := slices.Collect(DetectDeclines(s, -20))[0]

	res := CalculateRecovery(s, ev, DefaultRecoveryTargets)
	for _, td := range res.Recovery {
		assert.False(t, td.Days.Valid, "target %d", td.TargetPct)
	}
}

func TestCalculateRecovery_Monotonic(t *testing.T) {
	s := seriesFromOpens("M", 100, 50, 52, 49, 56, 61, 58, 66, 70, 80, 101, 90, 120)
	ev := slices.Collect(DetectDeclines(s, -20))[0]
	res := CalculateRecovery(s, ev, DefaultRecoveryTargets)

	var prev int64
	for _, td := range res.Recovery {
		if !td.Days.Valid {
			continue
		}
		assert.GreaterOrEqual(t, td.Days.Int64, prev, "target %d", td.TargetPct)
		prev = td.Days.Int64
	}
	d50 := res.DaysFor(50)
	require.True(t, d50.Valid)
	for _, lower := range []int{10, 20, 30, 40} {
		d := res.DaysFor(lower)
		require.True(t, d.Valid)
		assert.LessOrEqual(t, d.Int64, d50.Int64)
	}
}

func TestCalculateRecovery_MissingOpensCountAsAdvanced(t *testing.T) {
	s := seriesFromOpens("HOLE", 100, 50, math.NaN(), math.NaN(), 60)
	ev := slices.Collect(DetectDeclines(s, -20))[0]

	res := CalculateRecovery(s, ev, []int{10, 20})
	assert.Equal(t, int64(3), res.DaysFor(10).Int64)
	assert.Equal(t, int64(3), res.DaysFor(20).Int64)
}

func TestCalculateRecovery_UsesDeclineDayOpenAsBaseline(t *testing.T) {
	// the low after the decline is 40, but the baseline stays the decline-day open of 50
	s := seriesFromOpens("B", 100, 50, 40, 45, 54, 55)
	ev := slices.Collect(DetectDeclines(s, -30))[0]
	require.Equal(t, 1, ev.Index)

	res := CalculateRecovery(s, ev, []int{10})
	assert.Equal(t, int64(4), res.DaysFor(10).Int64)
}

func TestNormalizeTargets(t *testing.T) {
	assert.Equal(t, []int{10, 20, 50}, NormalizeTargets([]int{50, 10, 20, 10}))
	in := []int{3, 1}
	NormalizeTargets(in)
	assert.Equal(t, []int{3, 1}, in, "input must not be modified")
}

func TestSummarize(t *testing.T) {
	mk := func(days ...int64) model.RecoveryResult {
		r := model.RecoveryResult{}
		for i, tgt := range []int{10, 20} {
			td := model.TargetDays{TargetPct: tgt}
			if i < len(days) && days[i] >= 0 {
				td.Days = null.IntFrom(days[i])
			}
			r.Recovery = append(r.Recovery, td)
		}
		return r
	}
	results := []model.RecoveryResult{
		mk(5, 40),
		mk(20, 70),
		mk(35, -1),
		mk(-1, -1),
	}
	windows := []model.SuccessWindow{{TargetPct: 10, Days: 30}, {TargetPct: 20, Days: 60}, {TargetPct: 30, Days: 90}}

	st := Summarize(results, []int{10, 20}, windows)
	assert.Equal(t, 4, st.TotalEvents)
	require.Len(t, st.Targets, 2)

	t10 := st.Targets[0]
	assert.Equal(t, 3, t10.ReachedCount)
	assert.Equal(t, 4, t10.TotalCount)
	assert.InDelta(t, 0.75, t10.ReachedRate, 1e-12)
	assert.InDelta(t, 20.0, t10.AverageDays.Float64, 1e-12)
	assert.InDelta(t, 20.0, t10.MedianDays.Float64, 1e-12)
	assert.Equal(t, int64(5), t10.MinDays.Int64)
	assert.Equal(t, int64(35), t10.MaxDays.Int64)

	t20 := st.Targets[1]
	assert.Equal(t, 2, t20.ReachedCount)
	assert.InDelta(t, 55.0, t20.MedianDays.Float64, 1e-12)

	require.Len(t, st.Windows, 3)
	assert.Equal(t, 2, st.Windows[0].Count)
	assert.InDelta(t, 0.5, st.Windows[0].Rate, 1e-12)
	assert.Equal(t, 1, st.Windows[1].Count)
	assert.Equal(t, 0, st.Windows[2].Count, "target never computed")
}

func TestSummarize_Empty(t *testing.T) {
	st := Summarize(nil, DefaultRecoveryTargets, DefaultSuccessWindows)
	assert.Equal(t, 0, st.TotalEvents)
	require.Len(t, st.Targets, len(DefaultRecoveryTargets))
	for _, ts := range st.Targets {
		assert.Equal(t, 0, ts.ReachedCount)
		assert.Zero(t, ts.ReachedRate)
		assert.False(t, ts.AverageDays.Valid)
		assert.False(t, ts.MinDays.Valid)
	}
	for _, w := range st.Windows {
		assert.Zero(t, w.Count)
		assert.Zero(t, w.Rate)
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func TestSummarizeCloses(t *testing.T) {
	s := seriesFromOpens("C", 10, math.NaN(), 20, 5, 15)
	sum, err := SummarizeCloses(s.Records)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sum.Min)
	assert.Equal(t, 20.0, sum.Max)
	assert.InDelta(t, 12.5, sum.Avg, 1e-12)
	assert.InDelta(t, 50.0, sum.TotalReturnPct, 1e-12)

	_, err = SummarizeCloses(nil)
	assert.ErrorIs(t, err, ErrNoPrices)
}

func TestIndexReturnPct(t *testing.T) {
	pts := []model.IndexPoint{
		{Date: day0, Value: 4000},
		{Date: day0.AddDate(0, 0, 1), Value: 4100},
		{Date: day0.AddDate(0, 0, 2), Value: 4400},
	}
	pct, ok := IndexReturnPct(pts, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2))
	require.True(t, ok)
	assert.InDelta(t, 300.0/4100*100, pct, 1e-9)

	_, ok = IndexReturnPct(pts, day0, day0)
	assert.False(t, ok)
}
