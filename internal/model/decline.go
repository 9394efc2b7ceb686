package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// DeclineEvent is a trading day whose open fell at least the threshold
// percentage below the previous record's open.
type DeclineEvent struct {
	Symbol            string
	CompanyName       string
	Date              time.Time
	DeclinePct        float64
	PrevOpen          float64
	CurrentOpen       float64
	Close             null.Float
	IntradayChangePct null.Float
	Volume            null.Int

	// Index is the position of the decline day inside its SymbolSeries.
	Index int
}

// TargetDays is the outcome for one recovery threshold.
// Days is the number of records advanced from the decline day, absent when never reached.
type TargetDays struct {
	TargetPct int
	Days      null.Int
}

// RecoveryResult joins a decline event with its recovery horizons, ordered by target ascending.
type RecoveryResult struct {
	Event    DeclineEvent
	Recovery []TargetDays
}

// DaysFor returns the recovery days for target, absent if the target was not computed or not reached.
func (r *RecoveryResult) DaysFor(target int) null.Int {
	for _, td := range r.Recovery {
		if td.TargetPct == target {
			return td.Days
		}
	}
	return null.Int{}
}

// TargetStats aggregates one recovery threshold over a set of events.
type TargetStats struct {
	TargetPct    int
	AverageDays  null.Float
	MedianDays   null.Float
	MinDays      null.Int
	MaxDays      null.Int
	ReachedCount int
	TotalCount   int
	ReachedRate  float64 // fraction in [0, 1]
}

// SuccessWindow asks how many events reached TargetPct within Days trading days.
type SuccessWindow struct {
	TargetPct int `yaml:"target_pct" validate:"gt=0"`
	Days      int `yaml:"days" validate:"gt=0"`
}

// WindowRate is the answer to a SuccessWindow.
type WindowRate struct {
	SuccessWindow
	Count int
	Total int
	Rate  float64 // fraction in [0, 1]
}

// RecoveryStats is the aggregate view over a filtered set of recovery results.
type RecoveryStats struct {
	TotalEvents int
	Targets     []TargetStats
	Windows     []WindowRate
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DatasetStats summarises the loaded table.
type DatasetStats struct {
	Generation          string
	LoadedAt            time.Time
	Source              string
	TotalRecords        int
	UniqueStocks        int
	DateRange           DateRange
	SignificantDeclines int
	WorstDecline        *DeclineEvent
}

// HistoryRow is one record of a stock history together with its day-over-day open change.
type HistoryRow struct {
	PriceRecord
	PrevOpen       null.Float
	DailyChangePct null.Float
}

// StockHistory is the price history of one symbol over a date range.
type StockHistory struct {
	Symbol         string
	CompanyName    string
	Rows           []HistoryRow
	MinPrice       null.Float
	MaxPrice       null.Float
	AvgPrice       null.Float
	TotalReturnPct null.Float
	IndexReturnPct null.Float
}
