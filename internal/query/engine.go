// Package query answers decline, recovery and history questions against the
// currently published dataset.
package query

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"

	"DipRecovery/internal/calculator"
	"DipRecovery/internal/model"
	"DipRecovery/internal/store"
)

// Engine runs queries. It is safe for concurrent use; every call reads one
// dataset snapshot from the store.
type Engine struct {
	store            *store.Store
	targets          []int
	windows          []model.SuccessWindow
	defaultThreshold float64
	log              *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithTargets sets the recovery thresholds in percent.
func WithTargets(targets []int) Option {
	return func(e *Engine) { e.targets = calculator.NormalizeTargets(targets) }
}

// WithWindows sets the time-boxed success windows.
func WithWindows(windows []model.SuccessWindow) Option {
	return func(e *Engine) { e.windows = slices.Clone(windows) }
}

// WithDefaultThreshold sets the threshold used when a request leaves it blank.
func WithDefaultThreshold(th float64) Option {
	return func(e *Engine) { e.defaultThreshold = th }
}

// NewEngine creates an Engine reading from st.
func NewEngine(st *store.Store, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:            st,
		targets:          calculator.NormalizeTargets(calculator.DefaultRecoveryTargets),
		windows:          slices.Clone(calculator.DefaultSuccessWindows),
		defaultThreshold: calculator.DefaultDeclineThreshold,
		log:              log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DefaultThreshold returns the threshold applied to blank requests.
func (e *Engine) DefaultThreshold() float64 { return e.defaultThreshold }

// Targets returns the configured recovery thresholds, ascending.
func (e *Engine) Targets() []int { return e.targets }

func (e *Engine) dataset() (*store.Dataset, error) {
	ds, err := e.store.Current()
	if errors.Is(err, store.ErrNotLoaded) {
		return nil, ErrDataUnavailable
	}
	return ds, err
}

// Loaded returns the generation id and load time of the published dataset.
func (e *Engine) Loaded() (generation string, loadedAt time.Time, err error) {
	ds, err := e.dataset()
	if err != nil {
		return "", time.Time{}, err
	}
	return ds.Generation, ds.LoadedAt, nil
}

// GetStats describes the loaded dataset and counts declines matching f.
func (e *Engine) GetStats(f Filter) (*model.DatasetStats, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	ds, err := e.dataset()
	if err != nil {
		return nil, err
	}
	count := 0
	for _, s := range selectSeries(ds, f) {
		for ev := range calculator.DetectDeclines(s, f.Threshold) {
			if inRange(ev.Date, f.Start, f.End) {
				count++
			}
		}
	}
	return &model.DatasetStats{
		Generation:          ds.Generation,
		LoadedAt:            ds.LoadedAt,
		Source:              ds.Source,
		TotalRecords:        ds.TotalRecords,
		UniqueStocks:        ds.UniqueStocks(),
		DateRange:           ds.DateRange,
		SignificantDeclines: count,
		WorstDecline:        worstDecline(ds),
	}, nil
}

// GetSignificantDeclines returns every decline matching f with its recovery
// horizons, newest first.
func (e *Engine) GetSignificantDeclines(f Filter) ([]model.RecoveryResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	ds, err := e.dataset()
	if err != nil {
		return nil, err
	}
	results := e.collect(ds, f)
	e.log.Debug("significant declines",
		zap.Float64("threshold", f.Threshold),
		zap.String("symbol", f.symbol()),
		zap.Int("events", len(results)))
	return results, nil
}

// GetRecoveryStats aggregates the recovery horizons of the declines matching f.
func (e *Engine) GetRecoveryStats(f Filter) (*model.RecoveryStats, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	ds, err := e.dataset()
	if err != nil {
		return nil, err
	}
	stats := calculator.Summarize(e.collect(ds, f), e.targets, e.windows)
	return &stats, nil
}

// GetStocks lists every loaded symbol with its company name.
func (e *Engine) GetStocks() ([]model.Stock, error) {
	ds, err := e.dataset()
	if err != nil {
		return nil, err
	}
	return ds.Stocks(), nil
}

// GetStockHistory returns the records of symbol between start and end
// inclusive. An unknown symbol yields an empty history.
func (e *Engine) GetStockHistory(symbol string, start, end null.Time) (*model.StockHistory, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	ds, err := e.dataset()
	if err != nil {
		return nil, err
	}
	sym := Filter{Symbol: symbol}.symbol()
	out := &model.StockHistory{Symbol: sym, CompanyName: sym, Rows: []model.HistoryRow{}}
	series, ok := ds.Series(sym)
	if !ok {
		return out, nil
	}
	out.CompanyName = series.CompanyName

	var inSpan []model.PriceRecord
	for i, r := range series.Records {
		if !inRange(r.Date, start, end) {
			continue
		}
		row := model.HistoryRow{PriceRecord: r}
		if i > 0 {
			row.PrevOpen = series.Records[i-1].Open
			if pct, ok := calculator.DailyChangePct(row.PrevOpen, r.Open); ok {
				row.DailyChangePct = null.FloatFrom(pct)
			}
		}
		out.Rows = append(out.Rows, row)
		inSpan = append(inSpan, r)
	}
	if len(inSpan) == 0 {
		return out, nil
	}

	if sum, err := calculator.SummarizeCloses(inSpan); err == nil {
		out.MinPrice = null.FloatFrom(sum.Min)
		out.MaxPrice = null.FloatFrom(sum.Max)
		out.AvgPrice = null.FloatFrom(sum.Avg)
		out.TotalReturnPct = null.FloatFrom(sum.TotalReturnPct)
	}
	first, last := inSpan[0].Date, inSpan[len(inSpan)-1].Date
	if pct, ok := calculator.IndexReturnPct(ds.Index(), first, last); ok {
		out.IndexReturnPct = null.FloatFrom(pct)
	}
	return out, nil
}

// collect applies the symbol filter, then the date range, then the threshold.
// Detection still reads the real previous record when it lies before Start,
// and recovery scans the whole forward series.
func (e *Engine) collect(ds *store.Dataset, f Filter) []model.RecoveryResult {
	results := []model.RecoveryResult{}
	for _, s := range selectSeries(ds, f) {
		for ev := range calculator.DetectDeclines(s, f.Threshold) {
			if !inRange(ev.Date, f.Start, f.End) {
				continue
			}
			results = append(results, calculator.CalculateRecovery(s, ev, e.targets))
		}
	}
	SortResults(results)
	return results
}

// SortResults orders results by date descending, then decline ascending, then symbol.
func SortResults(results []model.RecoveryResult) {
	slices.SortFunc(results, func(a, b model.RecoveryResult) int {
		if c := b.Event.Date.Compare(a.Event.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Event.DeclinePct, b.Event.DeclinePct); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.Symbol, b.Event.Symbol)
	})
}

func selectSeries(ds *store.Dataset, f Filter) []*model.SymbolSeries {
	if sym := f.symbol(); sym != "" {
		if s, ok := ds.Series(sym); ok {
			return []*model.SymbolSeries{s}
		}
		return nil
	}
	out := make([]*model.SymbolSeries, 0, ds.UniqueStocks())
	for _, sym := range ds.Symbols() {
		s, _ := ds.Series(sym)
		out = append(out, s)
	}
	return out
}

// worstDecline is the largest single-day open-to-open drop anywhere in the dataset.
func worstDecline(ds *store.Dataset) *model.DeclineEvent {
	var worst *model.DeclineEvent
	for _, sym := range ds.Symbols() {
		s, _ := ds.Series(sym)
		for ev := range calculator.DetectDeclines(s, 0) {
			if ev.DeclinePct < 0 && (worst == nil || ev.DeclinePct < worst.DeclinePct) {
				worst = &ev
			}
		}
	}
	return worst
}
