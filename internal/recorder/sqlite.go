package recorder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"DipRecovery/internal/model"
)

// SQLiteRecorder persists reload history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while a reload writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reload_events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			generation     TEXT NOT NULL UNIQUE,
			source         TEXT,
			loaded_at      INTEGER,
			total_records  INTEGER,
			unique_stocks  INTEGER,
			start_date     TEXT,
			end_date       TEXT,
			threshold      REAL,
			decline_count  INTEGER,
			duration_ms    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reload_ts ON reload_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS decline_snapshots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			generation    TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			date          TEXT NOT NULL,
			decline_pct   REAL,
			prev_open     REAL,
			current_open  REAL,
			volume        INTEGER,
			recovery      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decline_gen ON decline_snapshots(generation)`,
		`CREATE INDEX IF NOT EXISTS idx_decline_symbol_date ON decline_snapshots(symbol, date)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordReload(evt *ReloadEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO reload_events
		(timestamp, generation, source, loaded_at, total_records, unique_stocks,
		 start_date, end_date, threshold, decline_count, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Generation, evt.Source, evt.LoadedAt.Unix(),
		evt.TotalRecords, evt.UniqueStocks,
		formatDate(evt.DateRange.Start), formatDate(evt.DateRange.End),
		evt.Threshold, evt.Declines, evt.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert reload event: %w", err)
	}
	return nil
}

// RecordDeclines stores every result under generation in one transaction.
// The recovery column holds a JSON object of target percent to days, null when unreached.
func (r *SQLiteRecorder) RecordDeclines(generation string, results []model.RecoveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO decline_snapshots
		(generation, symbol, date, decline_pct, prev_open, current_open, volume, recovery)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		ev := res.Event
		recovery, err := recoveryJSON(res.Recovery)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(generation, ev.Symbol, formatDate(ev.Date),
			ev.DeclinePct, ev.PrevOpen, ev.CurrentOpen, ev.Volume, recovery); err != nil {
			return fmt.Errorf("insert decline %s %s: %w", ev.Symbol, formatDate(ev.Date), err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) LastReload() (*ReloadEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		evt                ReloadEvent
		loadedAt, durMS    int64
		startDate, endDate string
	)
	err := r.db.QueryRow(`SELECT generation, source, loaded_at, total_records, unique_stocks,
		start_date, end_date, threshold, decline_count, duration_ms
		FROM reload_events ORDER BY id DESC LIMIT 1`).Scan(
		&evt.Generation, &evt.Source, &loadedAt, &evt.TotalRecords, &evt.UniqueStocks,
		&startDate, &endDate, &evt.Threshold, &evt.Declines, &durMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last reload: %w", err)
	}
	evt.LoadedAt = time.Unix(loadedAt, 0)
	evt.Duration = time.Duration(durMS) * time.Millisecond
	evt.DateRange.Start, _ = model.ParseDate(startDate)
	evt.DateRange.End, _ = model.ParseDate(endDate)
	return &evt, nil
}

// DeclineCount returns how many declines were stored for generation.
func (r *SQLiteRecorder) DeclineCount(generation string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM decline_snapshots WHERE generation = ?`, generation).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}

func recoveryJSON(recovery []model.TargetDays) (string, error) {
	m := make(map[string]*int64, len(recovery))
	for _, td := range recovery {
		var days *int64
		if td.Days.Valid {
			d := td.Days.Int64
			days = &d
		}
		m[strconv.Itoa(td.TargetPct)] = days
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode recovery: %w", err)
	}
	return string(b), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}
