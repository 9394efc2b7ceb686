package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"DipRecovery/internal/model"
)

var (
	// ErrDataUnavailable means no dataset has been loaded yet.
	ErrDataUnavailable = errors.New("dataset not loaded")
	// ErrInvalidFilter wraps every rejected query parameter.
	ErrInvalidFilter = errors.New("invalid filter")
)

// Filter narrows decline queries. Zero-valued bounds and an empty symbol mean unbounded.
type Filter struct {
	Threshold float64
	Start     null.Time
	End       null.Time
	Symbol    string
}

// ParseFilter builds a Filter from raw query parameters. An empty threshold
// falls back to defaultThreshold.
func ParseFilter(threshold, start, end, symbol string, defaultThreshold float64) (Filter, error) {
	f := Filter{Threshold: defaultThreshold, Symbol: symbol}
	if s := strings.TrimSpace(threshold); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: threshold %q is not a number", ErrInvalidFilter, threshold)
		}
		f.Threshold = v
	}
	var err error
	if f.Start, err = parseBound("start_date", start); err != nil {
		return Filter{}, err
	}
	if f.End, err = parseBound("end_date", end); err != nil {
		return Filter{}, err
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// Validate rejects non-finite thresholds and inverted date ranges.
func (f Filter) Validate() error {
	if math.IsNaN(f.Threshold) || math.IsInf(f.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be a finite number", ErrInvalidFilter)
	}
	return validateRange(f.Start, f.End)
}

func (f Filter) symbol() string {
	return strings.ToUpper(strings.TrimSpace(f.Symbol))
}

func validateRange(start, end null.Time) error {
	if start.Valid && end.Valid && start.Time.After(end.Time) {
		return fmt.Errorf("%w: start_date %s is after end_date %s", ErrInvalidFilter,
			start.Time.Format(model.DateLayout), end.Time.Format(model.DateLayout))
	}
	return nil
}

func inRange(d time.Time, start, end null.Time) bool {
	if start.Valid && d.Before(model.NormalizeDate(start.Time)) {
		return false
	}
	if end.Valid && d.After(model.NormalizeDate(end.Time)) {
		return false
	}
	return true
}

// ParseDateBound parses an optional ISO date. Empty input yields an absent bound.
func ParseDateBound(name, raw string) (null.Time, error) {
	return parseBound(name, raw)
}

func parseBound(name, raw string) (null.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return null.Time{}, nil
	}
	t, err := model.ParseDate(raw)
	if err != nil {
		return null.Time{}, fmt.Errorf("%w: %s %q is not a YYYY-MM-DD date", ErrInvalidFilter, name, raw)
	}
	return null.TimeFrom(t), nil
}
