// Package store owns the loaded price table. A Dataset is immutable once
// built; Store publishes datasets atomically so readers never see a partial reload.
package store

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"DipRecovery/internal/model"
)

// ErrNotLoaded is returned by Current before the first dataset is published.
var ErrNotLoaded = errors.New("dataset not loaded")

// Dataset is the immutable price table, grouped by symbol.
type Dataset struct {
	Generation   string
	Source       string
	LoadedAt     time.Time
	TotalRecords int
	DateRange    model.DateRange
	Duplicates   int

	series    map[string]*model.SymbolSeries
	symbols   []string
	companies map[string]string
	index     []model.IndexPoint
}

// NewDataset groups records by symbol, sorts each series by date and drops
// repeated (symbol, date) pairs, keeping the first. companies maps symbol to
// company name and may be nil; index may be empty.
func NewDataset(source string, records []model.PriceRecord, companies map[string]string, index []model.IndexPoint) *Dataset {
	ds := &Dataset{
		Generation: uuid.NewString(),
		Source:     source,
		LoadedAt:   time.Now(),
		series:     make(map[string]*model.SymbolSeries),
		companies:  make(map[string]string, len(companies)),
	}
	for sym, name := range companies {
		ds.companies[normalizeSymbol(sym)] = name
	}

	for _, r := range records {
		sym := normalizeSymbol(r.Symbol)
		if sym == "" || r.Date.IsZero() {
			continue
		}
		r.Symbol = sym
		r.Date = model.NormalizeDate(r.Date)
		s, ok := ds.series[sym]
		if !ok {
			s = &model.SymbolSeries{Symbol: sym, CompanyName: ds.companyName(sym)}
			ds.series[sym] = s
			ds.symbols = append(ds.symbols, sym)
		}
		s.Records = append(s.Records, r)
	}
	slices.Sort(ds.symbols)

	for _, s := range ds.series {
		slices.SortStableFunc(s.Records, func(a, b model.PriceRecord) int {
			return a.Date.Compare(b.Date)
		})
		before := len(s.Records)
		s.Records = slices.CompactFunc(s.Records, func(a, b model.PriceRecord) bool {
			return a.Date.Equal(b.Date)
		})
		ds.Duplicates += before - len(s.Records)
		ds.TotalRecords += len(s.Records)

		first, last := s.Records[0].Date, s.Records[len(s.Records)-1].Date
		if ds.DateRange.Start.IsZero() || first.Before(ds.DateRange.Start) {
			ds.DateRange.Start = first
		}
		if last.After(ds.DateRange.End) {
			ds.DateRange.End = last
		}
	}

	ds.index = slices.Clone(index)
	slices.SortFunc(ds.index, func(a, b model.IndexPoint) int {
		return a.Date.Compare(b.Date)
	})
	return ds
}

// Series returns the series for symbol, matched case-insensitively.
func (d *Dataset) Series(symbol string) (*model.SymbolSeries, bool) {
	s, ok := d.series[normalizeSymbol(symbol)]
	return s, ok
}

// Symbols returns every symbol in ascending order.
func (d *Dataset) Symbols() []string { return d.symbols }

// UniqueStocks returns the number of symbols with at least one record.
func (d *Dataset) UniqueStocks() int { return len(d.symbols) }

// Index returns the benchmark index points, sorted by date.
func (d *Dataset) Index() []model.IndexPoint { return d.index }

// Stocks lists every symbol with its company name, sorted by symbol.
func (d *Dataset) Stocks() []model.Stock {
	out := make([]model.Stock, 0, len(d.symbols))
	for _, sym := range d.symbols {
		out = append(out, model.Stock{Symbol: sym, CompanyName: d.series[sym].CompanyName})
	}
	return out
}

func (d *Dataset) companyName(symbol string) string {
	if name := strings.TrimSpace(d.companies[symbol]); name != "" {
		return name
	}
	return symbol
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Store publishes the current Dataset. The zero value is empty and ready to use.
type Store struct {
	current atomic.Pointer[Dataset]
}

// New creates an empty Store.
func New() *Store { return &Store{} }

// Current returns the published dataset or ErrNotLoaded.
func (s *Store) Current() (*Dataset, error) {
	ds := s.current.Load()
	if ds == nil {
		return nil, ErrNotLoaded
	}
	return ds, nil
}

// Swap publishes ds and returns the dataset it replaced, if any.
func (s *Store) Swap(ds *Dataset) *Dataset {
	return s.current.Swap(ds)
}
