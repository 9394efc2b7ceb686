package query

import (
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"DipRecovery/internal/model"
	"DipRecovery/internal/store"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func records(symbol string, opens ...float64) []model.PriceRecord {
	out := make([]model.PriceRecord, len(opens))
	for i, o := range opens {
		out[i] = model.PriceRecord{
			Symbol: symbol,
			Date:   day0.AddDate(0, 0, i),
			Open:   null.FloatFrom(o),
			Close:  null.FloatFrom(o),
			Volume: null.IntFrom(1000),
		}
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	var recs []model.PriceRecord
	recs = append(recs, records("AAPL", 100, 70, 80, 91, 105)...)
	recs = append(recs, records("MSFT", 50, 50, 30, 40, 45)...)
	index := make([]model.IndexPoint, 5)
	for i := range index {
		index[i] = model.IndexPoint{Date: day0.AddDate(0, 0, i), Value: 1000 + float64(i)*10}
	}
	st := store.New()
	st.Swap(store.NewDataset("test", recs, map[string]string{"AAPL": "Apple Inc."}, index))
	return NewEngine(st, zap.NewNop())
}

func date(s string) null.Time {
	t, _ := model.ParseDate(s)
	return null.TimeFrom(t)
}

func TestEngine_DataUnavailable(t *testing.T) {
	e := NewEngine(store.New(), nil)
	f := Filter{Threshold: -20}

	_, err := e.GetStats(f)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = e.GetSignificantDeclines(f)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = e.GetRecoveryStats(f)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = e.GetStocks()
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = e.GetStockHistory("AAPL", null.Time{}, null.Time{})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name      string
		threshold string
		start     string
		end       string
		wantErr   bool
		want      float64
	}{
		{name: "defaults", want: -20},
		{name: "explicit threshold", threshold: "-35.5", want: -35.5},
		{name: "dates", start: "2024-01-01", end: "2024-02-01", want: -20},
		{name: "same day", start: "2024-01-01", end: "2024-01-01", want: -20},
		{name: "non-numeric threshold", threshold: "abc", wantErr: true},
		{name: "NaN threshold", threshold: "NaN", wantErr: true},
		{name: "infinite threshold", threshold: "-Inf", wantErr: true},
		{name: "malformed start", start: "2024/01/01", wantErr: true},
		{name: "malformed end", end: "yesterday", wantErr: true},
		{name: "inverted range", start: "2024-02-01", end: "2024-01-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.threshold, tt.start, tt.end, "aapl", -20)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Threshold)
			assert.Equal(t, tt.start != "", f.Start.Valid)
			assert.Equal(t, tt.end != "", f.End.Valid)
		})
	}
}

func TestEngine_InvalidFilterRejectedBeforeScan(t *testing.T) {
	e := NewEngine(store.New(), nil)
	f := Filter{Threshold: -20, Start: date("2024-03-01"), End: date("2024-01-01")}

	// The store is empty, so reaching the scan would report ErrDataUnavailable.
	_, err := e.GetSignificantDeclines(f)
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = e.GetStockHistory("AAPL", f.Start, f.End)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestEngine_GetSignificantDeclines(t *testing.T) {
	e := newTestEngine(t)

	got, err := e.GetSignificantDeclines(Filter{Threshold: -20})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "MSFT", got[0].Event.Symbol)
	assert.Equal(t, "AAPL", got[1].Event.Symbol)
	assert.Equal(t, "Apple Inc.", got[1].Event.CompanyName)
	assert.InDelta(t, -40, got[0].Event.DeclinePct, 1e-9)
	assert.InDelta(t, -30, got[1].Event.DeclinePct, 1e-9)

	aapl := got[1]
	assert.Equal(t, null.IntFrom(1), aapl.DaysFor(10))
	assert.Equal(t, null.IntFrom(2), aapl.DaysFor(20))
	assert.Equal(t, null.IntFrom(3), aapl.DaysFor(50))
	assert.False(t, aapl.DaysFor(75).Valid)
}

func TestEngine_GetSignificantDeclinesIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	f := Filter{Threshold: -25}

	first, err := e.GetSignificantDeclines(f)
	require.NoError(t, err)
	second, err := e.GetSignificantDeclines(f)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_SymbolFilter(t *testing.T) {
	e := newTestEngine(t)

	got, err := e.GetSignificantDeclines(Filter{Threshold: -20, Symbol: " aapl "})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Event.Symbol)

	got, err = e.GetSignificantDeclines(Filter{Threshold: -20, Symbol: "ZZZZ"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Partial symbols do not match.
	got, err = e.GetSignificantDeclines(Filter{Threshold: -20, Symbol: "AAP"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngine_DateRangeUsesRealPreviousRecord(t *testing.T) {
	e := newTestEngine(t)

	// The range covers only the decline day; its previous open lies outside it.
	f := Filter{Threshold: -20, Start: date("2024-01-02"), End: date("2024-01-02")}
	got, err := e.GetSignificantDeclines(f)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Event.Symbol)
	assert.Equal(t, 100.0, got[0].Event.PrevOpen)

	// Recovery still scans past End.
	assert.Equal(t, null.IntFrom(3), got[0].DaysFor(50))
}

func TestEngine_DateRangeOutsideDataset(t *testing.T) {
	e := newTestEngine(t)
	f := Filter{Threshold: -20, Start: date("2030-01-01"), End: date("2030-12-31")}

	got, err := e.GetSignificantDeclines(f)
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := e.GetRecoveryStats(f)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEvents)
	for _, ts := range stats.Targets {
		assert.Zero(t, ts.ReachedCount)
		assert.Zero(t, ts.ReachedRate)
		assert.False(t, ts.AverageDays.Valid)
	}

	ds, err := e.GetStats(f)
	require.NoError(t, err)
	assert.Zero(t, ds.SignificantDeclines)
}

func TestEngine_ThresholdComposition(t *testing.T) {
	e := newTestEngine(t)

	none, err := e.GetSignificantDeclines(Filter{Threshold: -100})
	require.NoError(t, err)
	assert.Empty(t, none)

	nonRising, err := e.GetSignificantDeclines(Filter{Threshold: 0})
	require.NoError(t, err)
	// AAPL day 2, MSFT days 2 (flat) and 3.
	assert.Len(t, nonRising, 3)

	loose, err := e.GetSignificantDeclines(Filter{Threshold: -35})
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, "MSFT", loose[0].Event.Symbol)
}

func TestEngine_GetRecoveryStats(t *testing.T) {
	e := newTestEngine(t)

	stats, err := e.GetRecoveryStats(Filter{Threshold: -20})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	require.Len(t, stats.Targets, 7)

	t10 := stats.Targets[0]
	assert.Equal(t, 10, t10.TargetPct)
	assert.Equal(t, 2, t10.ReachedCount)
	assert.Equal(t, 1.0, t10.ReachedRate)
	assert.Equal(t, null.FloatFrom(1), t10.AverageDays)

	t75 := stats.Targets[5]
	assert.Equal(t, 75, t75.TargetPct)
	assert.Zero(t, t75.ReachedCount)
	assert.False(t, t75.AverageDays.Valid)
	assert.False(t, t75.MinDays.Valid)

	require.NotEmpty(t, stats.Windows)
	assert.Equal(t, model.SuccessWindow{TargetPct: 10, Days: 30}, stats.Windows[0].SuccessWindow)
	assert.Equal(t, 2, stats.Windows[0].Count)
}

func TestEngine_CustomTargets(t *testing.T) {
	st := store.New()
	st.Swap(store.NewDataset("test", records("AAPL", 100, 70, 80, 91, 105), nil, nil))
	e := NewEngine(st, nil, WithTargets([]int{50, 15, 15}), WithWindows(nil), WithDefaultThreshold(-25))

	assert.Equal(t, []int{15, 50}, e.Targets())
	assert.Equal(t, -25.0, e.DefaultThreshold())

	stats, err := e.GetRecoveryStats(Filter{Threshold: e.DefaultThreshold()})
	require.NoError(t, err)
	require.Len(t, stats.Targets, 2)
	assert.Equal(t, null.FloatFrom(2), stats.Targets[0].AverageDays)
	assert.Empty(t, stats.Windows)
}

func TestEngine_GetStats(t *testing.T) {
	e := newTestEngine(t)

	stats, err := e.GetStats(Filter{Threshold: -20})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalRecords)
	assert.Equal(t, 2, stats.UniqueStocks)
	assert.Equal(t, day0, stats.DateRange.Start)
	assert.Equal(t, day0.AddDate(0, 0, 4), stats.DateRange.End)
	assert.Equal(t, 2, stats.SignificantDeclines)
	assert.Equal(t, "test", stats.Source)
	require.NotNil(t, stats.WorstDecline)
	assert.Equal(t, "MSFT", stats.WorstDecline.Symbol)
	assert.InDelta(t, -40, stats.WorstDecline.DeclinePct, 1e-9)
}

func TestEngine_GetStocks(t *testing.T) {
	e := newTestEngine(t)

	stocks, err := e.GetStocks()
	require.NoError(t, err)
	assert.Equal(t, []model.Stock{
		{Symbol: "AAPL", CompanyName: "Apple Inc."},
		{Symbol: "MSFT", CompanyName: "MSFT"},
	}, stocks)
}

func TestEngine_GetStockHistory(t *testing.T) {
	e := newTestEngine(t)

	h, err := e.GetStockHistory("aapl", date("2024-01-02"), date("2024-01-04"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", h.Symbol)
	assert.Equal(t, "Apple Inc.", h.CompanyName)
	require.Len(t, h.Rows, 3)

	first := h.Rows[0]
	assert.Equal(t, null.FloatFrom(100), first.PrevOpen)
	assert.InDelta(t, -30, first.DailyChangePct.Float64, 1e-9)

	assert.Equal(t, null.FloatFrom(70), h.MinPrice)
	assert.Equal(t, null.FloatFrom(91), h.MaxPrice)
	assert.InDelta(t, (70.0+80+91)/3, h.AvgPrice.Float64, 1e-9)
	assert.InDelta(t, (91.0-70)/70*100, h.TotalReturnPct.Float64, 1e-9)
	assert.InDelta(t, (1030.0-1010)/1010*100, h.IndexReturnPct.Float64, 1e-9)
}

func TestEngine_GetStockHistoryUnbounded(t *testing.T) {
	e := newTestEngine(t)

	h, err := e.GetStockHistory("MSFT", null.Time{}, null.Time{})
	require.NoError(t, err)
	require.Len(t, h.Rows, 5)
	assert.False(t, h.Rows[0].PrevOpen.Valid)
	assert.False(t, h.Rows[0].DailyChangePct.Valid)
	assert.InDelta(t, -10, h.TotalReturnPct.Float64, 1e-9)
}

func TestEngine_GetStockHistoryUnknownSymbol(t *testing.T) {
	e := newTestEngine(t)

	h, err := e.GetStockHistory("NOPE", null.Time{}, null.Time{})
	require.NoError(t, err)
	assert.Empty(t, h.Rows)
	assert.False(t, h.MinPrice.Valid)
	assert.False(t, h.IndexReturnPct.Valid)
}
