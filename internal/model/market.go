package model

import (
	"math"
	"time"

	"github.com/guregu/null/v6"
)

// DateLayout is the ISO calendar-date form used for every date in and out of the system.
const DateLayout = time.DateOnly

// PriceRecord is one trading day for one symbol. Any price may be missing.
type PriceRecord struct {
	Symbol   string
	Date     time.Time
	Open     null.Float
	Close    null.Float
	High     null.Float
	Low      null.Float
	AdjClose null.Float
	Volume   null.Int
}

// SymbolSeries holds every record of one symbol, sorted by date ascending.
type SymbolSeries struct {
	Symbol      string
	CompanyName string
	Records     []PriceRecord
}

// Len returns the number of records in the series.
func (s *SymbolSeries) Len() int { return len(s.Records) }

// IndexPoint is one day of the benchmark index.
type IndexPoint struct {
	Date  time.Time
	Value float64
}

// Stock pairs a symbol with its display name.
type Stock struct {
	Symbol      string
	CompanyName string
}

// ValidPrice reports whether p holds a usable, non-zero price.
func ValidPrice(p null.Float) bool {
	return p.Valid && p.Float64 != 0 && !math.IsNaN(p.Float64) && !math.IsInf(p.Float64, 0)
}

// NormalizeDate truncates t to a UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
