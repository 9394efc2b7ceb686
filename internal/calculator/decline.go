package calculator

import (
	"iter"

	"github.com/guregu/null/v6"

	"DipRecovery/internal/model"
)

// DefaultDeclineThreshold is the decline percentage used when a query does not set one.
const DefaultDeclineThreshold = -20.0

// DailyChangePct returns the percentage change from prev to cur.
// ok is false when either price is missing, zero or not finite.
func DailyChangePct(prev, cur null.Float) (pct float64, ok bool) {
	if !model.ValidPrice(prev) || !model.ValidPrice(cur) {
		return 0, false
	}
	return (cur.Float64 - prev.Float64) / prev.Float64 * 100, true
}

// IntradayChangePct returns the close-versus-open change of a single record.
func IntradayChangePct(r model.PriceRecord) null.Float {
	pct, ok := DailyChangePct(r.Open, r.Close)
	if !ok {
		return null.Float{}
	}
	return null.FloatFrom(pct)
}

// DetectDeclines lazily yields every record of series whose open fell by
// threshold percent or more against the previous record's open, in date order.
// Days where either open is unusable are skipped.
func DetectDeclines(series *model.SymbolSeries, threshold float64) iter.Seq[model.DeclineEvent] {
	return func(yield func(model.DeclineEvent) bool) {
		if series == nil {
			return
		}
		recs := series.Records
		for i := 1; i < len(recs); i++ {
			pct, ok := DailyChangePct(recs[i-1].Open, recs[i].Open)
			if !ok || pct > threshold {
				continue
			}
			if !yield(newDeclineEvent(series, i, pct)) {
				return
			}
		}
	}
}

func newDeclineEvent(series *model.SymbolSeries, i int, pct float64) model.DeclineEvent {
	cur := series.Records[i]
	return model.DeclineEvent{
		Symbol:            series.Symbol,
		CompanyName:       series.CompanyName,
		Date:              cur.Date,
		DeclinePct:        pct,
		PrevOpen:          series.Records[i-1].Open.Float64,
		CurrentOpen:       cur.Open.Float64,
		Close:             cur.Close,
		IntradayChangePct: IntradayChangePct(cur),
		Volume:            cur.Volume,
		Index:             i,
	}
}
