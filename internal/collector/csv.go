package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"DipRecovery/internal/model"
)

// CSVSource reads the Kaggle S&P 500 dump: a stocks file
// (Date,Symbol,Adj Close,Close,High,Low,Open,Volume), an optional companies
// file (Symbol,Shortname,...) and an optional index file (Date,S&P500).
type CSVSource struct {
	StocksPath    string
	CompaniesPath string
	IndexPath     string
	Log           *zap.Logger
}

// NewCSVSource creates a CSVSource. Empty companies or index paths are skipped.
func NewCSVSource(stocks, companies, index string, log *zap.Logger) *CSVSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVSource{StocksPath: stocks, CompaniesPath: companies, IndexPath: index, Log: log}
}

func (s *CSVSource) Name() string { return "csv" }

// Load parses the three files concurrently.
func (s *CSVSource) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recs, skipped, err := s.readStocks(ctx)
		if err != nil {
			return err
		}
		snap.Records, snap.Skipped = recs, skipped
		return nil
	})
	g.Go(func() error {
		companies, err := s.readCompanies()
		if err != nil {
			return err
		}
		snap.Companies = companies
		return nil
	})
	g.Go(func() error {
		index, err := s.readIndex()
		if err != nil {
			return err
		}
		snap.Index = index
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *CSVSource) readStocks(ctx context.Context) ([]model.PriceRecord, int, error) {
	f, err := os.Open(s.StocksPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open stocks file: %w", err)
	}
	defer f.Close()

	r, cols, err := newReader(f, "date", "symbol", "open", "close")
	if err != nil {
		return nil, 0, fmt.Errorf("read stocks header: %w", err)
	}

	var (
		out     []model.PriceRecord
		skipped int
		line    = 1
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("read stocks row %d: %w", line, err)
		}
		if line%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}

		rec, ok := cols.priceRecord(row)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}

	if skipped > 0 {
		s.Log.Warn("dropped unusable stock rows", zap.String("file", s.StocksPath), zap.Int("rows", skipped))
	}
	return out, skipped, nil
}

func (s *CSVSource) readCompanies() (map[string]string, error) {
	f, err := openOptional(s.CompaniesPath)
	if err != nil {
		return nil, fmt.Errorf("open companies file: %w", err)
	}
	if f == nil {
		s.Log.Warn("companies file not found, names fall back to symbols", zap.String("file", s.CompaniesPath))
		return nil, nil
	}
	defer f.Close()

	r, cols, err := newReader(f, "symbol", "shortname")
	if err != nil {
		return nil, fmt.Errorf("read companies header: %w", err)
	}
	out := make(map[string]string)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		sym, name := cols.get(row, "symbol"), cols.get(row, "shortname")
		if sym != "" && name != "" {
			out[strings.ToUpper(sym)] = name
		}
	}
	return out, nil
}

func (s *CSVSource) readIndex() ([]model.IndexPoint, error) {
	f, err := openOptional(s.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	if f == nil {
		s.Log.Warn("index file not found, index returns disabled", zap.String("file", s.IndexPath))
		return nil, nil
	}
	defer f.Close()

	r, cols, err := newReader(f, "date")
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	valueCol := cols.firstOther("date")
	if valueCol < 0 {
		return nil, fmt.Errorf("read index header: no value column")
	}

	var out []model.IndexPoint
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || valueCol >= len(row) {
			continue
		}
		d, err := model.ParseDate(cols.get(row, "date"))
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[valueCol]), 64)
		if err != nil || v == 0 {
			continue
		}
		out = append(out, model.IndexPoint{Date: d, Value: v})
	}
	return out, nil
}

func openOptional(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return f, err
}

// columns maps normalised header names to positions.
type columns map[string]int

func newReader(r io.Reader, required ...string) (*csv.Reader, columns, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, nil, err
	}
	cols := make(columns, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}
	return cr, cols, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(h), ""))
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columns) firstOther(name string) int {
	skip := c[name]
	best := -1
	for _, i := range c {
		if i != skip && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func (c columns) float(row []string, name string) null.Float {
	v, err := strconv.ParseFloat(c.get(row, name), 64)
	if err != nil || math.IsNaN(v) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

// priceRecord converts one stocks row. Rows without a date, symbol or close are rejected.
func (c columns) priceRecord(row []string) (model.PriceRecord, bool) {
	sym := c.get(row, "symbol")
	d, err := model.ParseDate(c.get(row, "date"))
	if sym == "" || err != nil {
		return model.PriceRecord{}, false
	}
	rec := model.PriceRecord{
		Symbol:   strings.ToUpper(sym),
		Date:     d,
		Open:     c.float(row, "open"),
		Close:    c.float(row, "close"),
		High:     c.float(row, "high"),
		Low:      c.float(row, "low"),
		AdjClose: c.float(row, "adjclose"),
	}
	if !rec.Close.Valid {
		return model.PriceRecord{}, false
	}
	if v := c.float(row, "volume"); v.Valid {
		rec.Volume = null.IntFrom(int64(v.Float64))
	}
	return rec, true
}
