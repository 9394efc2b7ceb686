package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"DipRecovery/internal/model"
)

// DefaultIndexSymbol is the Yahoo ticker of the S&P 500 index.
const DefaultIndexSymbol = "^GSPC"

// YahooSource loads daily bars from the Yahoo Finance chart API.
type YahooSource struct {
	BaseURL     string
	Symbols     []string
	Range       string
	IndexSymbol string
	Concurrency int
	Client      *http.Client
	Log         *zap.Logger
}

// NewYahooSource creates a Yahoo source with optional proxy support.
func NewYahooSource(baseURL string, symbols []string, rng, proxyURL string, log *zap.Logger) *YahooSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &YahooSource{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Symbols:     symbols,
		Range:       rng,
		IndexSymbol: DefaultIndexSymbol,
		Concurrency: 4,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Log: log,
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

// Load fetches every symbol concurrently. A symbol that fails is logged and
// left out; the load fails only when nothing could be fetched.
func (y *YahooSource) Load(ctx context.Context) (*Snapshot, error) {
	var (
		mu     sync.Mutex
		snap   = &Snapshot{Companies: make(map[string]string)}
		failed int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(y.Concurrency, 1))
	for _, sym := range y.Symbols {
		g.Go(func() error {
			chart, err := y.fetchChart(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				y.Log.Warn("yahoo symbol skipped", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			snap.Records = append(snap.Records, chart.records...)
			snap.Skipped += chart.skipped
			if chart.name != "" {
				snap.Companies[chart.symbol] = chart.name
			}
			return nil
		})
	}
	if y.IndexSymbol != "" {
		g.Go(func() error {
			chart, err := y.fetchChart(ctx, y.IndexSymbol)
			if err != nil {
				y.Log.Warn("yahoo index skipped", zap.String("symbol", y.IndexSymbol), zap.Error(err))
				return nil
			}
			points := make([]model.IndexPoint, 0, len(chart.records))
			for _, r := range chart.records {
				points = append(points, model.IndexPoint{Date: r.Date, Value: r.Close.Float64})
			}
			mu.Lock()
			snap.Index = points
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(snap.Records) == 0 {
		return nil, fmt.Errorf("yahoo: no data for %d symbols (%d failed)", len(y.Symbols), failed)
	}
	return snap, nil
}

type yahooChart struct {
	symbol  string
	name    string
	records []model.PriceRecord
	skipped int
}

func (y *YahooSource) fetchChart(ctx context.Context, symbol string) (*yahooChart, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=%s&events=history",
		y.BaseURL, url.PathEscape(symbol), url.QueryEscape(y.Range))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}
	return parseChart(body, symbol)
}

// parseChart turns a chart API response into records. Bars without a close
// are dropped; other missing prices stay null.
func parseChart(body []byte, symbol string) (*yahooChart, error) {
	if desc := gjson.GetBytes(body, "chart.error.description"); desc.Exists() {
		return nil, fmt.Errorf("yahoo api error: %s", desc.String())
	}
	result := gjson.GetBytes(body, "chart.result.0")
	ts := result.Get("timestamp")
	if !ts.Exists() || !ts.IsArray() {
		return nil, fmt.Errorf("yahoo: no data returned for %s", symbol)
	}

	meta := result.Get("meta")
	out := &yahooChart{symbol: strings.ToUpper(symbol)}
	if s := meta.Get("symbol").String(); s != "" {
		out.symbol = strings.ToUpper(s)
	}
	out.name = meta.Get("shortName").String()
	if out.name == "" {
		out.name = meta.Get("longName").String()
	}

	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	closes := quote.Get("close").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	volumes := quote.Get("volume").Array()
	adj := result.Get("indicators.adjclose.0.adjclose").Array()

	for i, t := range ts.Array() {
		rec := model.PriceRecord{
			Symbol:   out.symbol,
			Date:     model.NormalizeDate(time.Unix(t.Int(), 0).UTC()),
			Open:     floatAt(opens, i),
			Close:    floatAt(closes, i),
			High:     floatAt(highs, i),
			Low:      floatAt(lows, i),
			AdjClose: floatAt(adj, i),
		}
		if !rec.Close.Valid {
			out.skipped++
			continue
		}
		if i < len(volumes) && volumes[i].Type == gjson.Number {
			rec.Volume = null.IntFrom(volumes[i].Int())
		}
		out.records = append(out.records, rec)
	}
	return out, nil
}

func floatAt(vals []gjson.Result, i int) null.Float {
	if i >= len(vals) || vals[i].Type != gjson.Number {
		return null.Float{}
	}
	return null.FloatFrom(vals[i].Float())
}
