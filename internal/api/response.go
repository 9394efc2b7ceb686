package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"DipRecovery/internal/model"
	"DipRecovery/internal/query"
)

// envelope is the body of every response: success plus either payload keys or an error.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, body envelope) {
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, query.ErrDataUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, envelope{"success": false, "error": err.Error()})
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func roundNull(v null.Float, places int32) *float64 {
	if !v.Valid {
		return nil
	}
	r := round(v.Float64, places)
	return &r
}

func intPtr(v null.Int) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type worstDeclineJSON struct {
	Date        string  `json:"date"`
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"company_name"`
	ChangePct   float64 `json:"change_pct"`
}

type statsJSON struct {
	TotalRecords        int               `json:"total_records"`
	UniqueSymbols       int               `json:"unique_symbols"`
	DateRange           dateRangeJSON     `json:"date_range"`
	SignificantDeclines int               `json:"significant_declines_count"`
	Threshold           float64           `json:"threshold"`
	WorstDecline        *worstDeclineJSON `json:"worst_decline"`
	Source              string            `json:"source"`
	Generation          string            `json:"generation"`
	LoadedAt            time.Time         `json:"loaded_at"`
}

func newStatsJSON(s *model.DatasetStats, threshold float64) statsJSON {
	out := statsJSON{
		TotalRecords:        s.TotalRecords,
		UniqueSymbols:       s.UniqueStocks,
		DateRange:           dateRangeJSON{Start: formatDate(s.DateRange.Start), End: formatDate(s.DateRange.End)},
		SignificantDeclines: s.SignificantDeclines,
		Threshold:           threshold,
		Source:              s.Source,
		Generation:          s.Generation,
		LoadedAt:            s.LoadedAt,
	}
	if w := s.WorstDecline; w != nil {
		out.WorstDecline = &worstDeclineJSON{
			Date:        formatDate(w.Date),
			Symbol:      w.Symbol,
			CompanyName: w.CompanyName,
			ChangePct:   round(w.DeclinePct, 2),
		}
	}
	return out
}

type declineJSON struct {
	Date              string            `json:"date"`
	Symbol            string            `json:"symbol"`
	CompanyName       string            `json:"company_name"`
	DeclinePct        float64           `json:"decline_pct"`
	PrevDayOpen       float64           `json:"prev_day_open"`
	OpenPrice         float64           `json:"open_price"`
	Close             *float64          `json:"close"`
	IntradayChangePct *float64          `json:"intraday_change_pct"`
	Volume            int64             `json:"volume"`
	Recovery          map[string]*int64 `json:"recovery"`
}

func targetKey(pct int) string { return fmt.Sprintf("%dpct", pct) }

func newDeclineJSON(r model.RecoveryResult) declineJSON {
	ev := r.Event
	out := declineJSON{
		Date:              formatDate(ev.Date),
		Symbol:            ev.Symbol,
		CompanyName:       ev.CompanyName,
		DeclinePct:        round(ev.DeclinePct, 2),
		PrevDayOpen:       round(ev.PrevOpen, 2),
		OpenPrice:         round(ev.CurrentOpen, 2),
		Close:             roundNull(ev.Close, 2),
		IntradayChangePct: roundNull(ev.IntradayChangePct, 2),
		Volume:            ev.Volume.Int64,
		Recovery:          make(map[string]*int64, len(r.Recovery)),
	}
	for _, td := range r.Recovery {
		out.Recovery[targetKey(td.TargetPct)] = intPtr(td.Days)
	}
	return out
}

type targetStatsJSON struct {
	AverageDays    *float64 `json:"average_days"`
	MedianDays     *float64 `json:"median_days"`
	MinDays        *int64   `json:"min_days"`
	MaxDays        *int64   `json:"max_days"`
	RecoveredCount int      `json:"recovered_count"`
	TotalCount     int      `json:"total_count"`
	RecoveryRate   float64  `json:"recovery_rate"`
}

type windowJSON struct {
	Percentage float64 `json:"percentage"`
	Count      int     `json:"count"`
	Total      int     `json:"total"`
}

type recoveryStatsJSON struct {
	TotalStocks int                        `json:"total_stocks"`
	Averages    map[string]targetStatsJSON `json:"averages"`
	Percentages map[string]windowJSON      `json:"percentages"`
}

func newRecoveryStatsJSON(s *model.RecoveryStats) recoveryStatsJSON {
	out := recoveryStatsJSON{
		TotalStocks: s.TotalEvents,
		Averages:    make(map[string]targetStatsJSON, len(s.Targets)),
		Percentages: make(map[string]windowJSON, len(s.Windows)),
	}
	for _, t := range s.Targets {
		out.Averages[targetKey(t.TargetPct)] = targetStatsJSON{
			AverageDays:    roundNull(t.AverageDays, 1),
			MedianDays:     roundNull(t.MedianDays, 1),
			MinDays:        intPtr(t.MinDays),
			MaxDays:        intPtr(t.MaxDays),
			RecoveredCount: t.ReachedCount,
			TotalCount:     t.TotalCount,
			RecoveryRate:   round(t.ReachedRate*100, 1),
		}
	}
	for _, w := range s.Windows {
		out.Percentages[fmt.Sprintf("%dpct_%ddays", w.TargetPct, w.Days)] = windowJSON{
			Percentage: round(w.Rate*100, 1),
			Count:      w.Count,
			Total:      w.Total,
		}
	}
	return out
}

type stockJSON struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type historyRowJSON struct {
	Date           string   `json:"date"`
	PrevDayOpen    *float64 `json:"prev_day_open"`
	Open           *float64 `json:"open"`
	Close          *float64 `json:"close"`
	High           *float64 `json:"high"`
	Low            *float64 `json:"low"`
	Volume         int64    `json:"volume"`
	DailyChangePct *float64 `json:"daily_change_pct"`
}

type historySummaryJSON struct {
	MinPrice       *float64 `json:"min_price"`
	MaxPrice       *float64 `json:"max_price"`
	AvgPrice       *float64 `json:"avg_price"`
	TotalReturnPct *float64 `json:"total_return_pct"`
	IndexReturnPct *float64 `json:"index_return_pct"`
}

func newHistoryJSON(h *model.StockHistory) ([]historyRowJSON, historySummaryJSON) {
	rows := make([]historyRowJSON, 0, len(h.Rows))
	for _, r := range h.Rows {
		rows = append(rows, historyRowJSON{
			Date:           formatDate(r.Date),
			PrevDayOpen:    roundNull(r.PrevOpen, 2),
			Open:           roundNull(r.Open, 2),
			Close:          roundNull(r.Close, 2),
			High:           roundNull(r.High, 2),
			Low:            roundNull(r.Low, 2),
			Volume:         r.Volume.Int64,
			DailyChangePct: roundNull(r.DailyChangePct, 2),
		})
	}
	return rows, historySummaryJSON{
		MinPrice:       roundNull(h.MinPrice, 2),
		MaxPrice:       roundNull(h.MaxPrice, 2),
		AvgPrice:       roundNull(h.AvgPrice, 2),
		TotalReturnPct: roundNull(h.TotalReturnPct, 2),
		IndexReturnPct: roundNull(h.IndexReturnPct, 2),
	}
}
