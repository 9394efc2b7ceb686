package calculator

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"DipRecovery/internal/model"
)

// ErrNoPrices is returned when a range holds no usable close price.
var ErrNoPrices = errors.New("no valid close prices in range")

// PriceSummary describes the closes of a span of records.
type PriceSummary struct {
	Min            float64
	Max            float64
	Avg            float64
	First          float64
	Last           float64
	TotalReturnPct float64
}

// SummarizeCloses scans the records and returns min, max and mean close and
// the return from the first to the last valid close. Records without a close are skipped.
func SummarizeCloses(records []model.PriceRecord) (PriceSummary, error) {
	closes := make([]float64, 0, len(records))
	for _, r := range records {
		if model.ValidPrice(r.Close) {
			closes = append(closes, r.Close.Float64)
		}
	}
	if len(closes) == 0 {
		return PriceSummary{}, ErrNoPrices
	}
	first, last := closes[0], closes[len(closes)-1]
	return PriceSummary{
		Min:            floats.Min(closes),
		Max:            floats.Max(closes),
		Avg:            stat.Mean(closes, nil),
		First:          first,
		Last:           last,
		TotalReturnPct: (last - first) / first * 100,
	}, nil
}

// IndexReturnPct returns the index change between the first and last points
// falling inside [start, end]. ok is false when fewer than two points qualify.
func IndexReturnPct(points []model.IndexPoint, start, end time.Time) (pct float64, ok bool) {
	var first, last *model.IndexPoint
	for i := range points {
		p := &points[i]
		if p.Date.Before(start) || p.Date.After(end) || p.Value == 0 {
			continue
		}
		if first == nil {
			first = p
		}
		last = p
	}
	if first == nil || first == last {
		return 0, false
	}
	return (last.Value - first.Value) / first.Value * 100, true
}
