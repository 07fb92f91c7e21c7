// Package storage provides the SQLite-backed append-only gap log and the
// per-cycle bookkeeping table.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thientran01/weather-bot/internal/models"
	"github.com/thientran01/weather-bot/internal/report"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// GapRow is one persisted gap_log row. Nil fields were stored as NULL: an
// open bucket side, an absent market, or a no-data marker row.
type GapRow struct {
	ID           int64
	CycleID      string
	Timestamp    time.Time
	City         string
	Metric       models.Metric
	MarketDate   string
	BucketLow    *int
	BucketHigh   *int
	MarketProb   *float64
	ForecastProb *float64
	Gap          *float64
	Note         string
}

// Marker reports whether the row records a no-data section rather than a bucket.
func (r *GapRow) Marker() bool {
	return r.ForecastProb == nil
}

// CycleRow is one persisted cycle.
type CycleRow struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Sections  int
	NoData    int
	Records   int
	Dropped   int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/weather-bot/gaps.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "weather-bot", "gaps.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			sections    INTEGER NOT NULL,
			no_data     INTEGER NOT NULL,
			records     INTEGER NOT NULL,
			dropped     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gap_log (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id      TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			city          TEXT NOT NULL,
			metric        TEXT NOT NULL,
			market_date   TEXT NOT NULL,
			bucket_low    INTEGER,
			bucket_high   INTEGER,
			market_prob   REAL,
			forecast_prob REAL,
			gap           REAL,
			note          TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gap_log_timestamp ON gap_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendSummary writes one cycle: its cycles row, every gap record, and a
// marker row for each no-data section. Either all rows land or none do.
func (s *Storage) AppendSummary(sum *report.Summary) error {
	if sum.CycleID == "" {
		return errors.New("summary has no cycle ID")
	}
	for i := range sum.Sections {
		for j := range sum.Sections[i].Records {
			if err := sum.Sections[i].Records[j].Validate(); err != nil {
				return fmt.Errorf("invalid gap record for %s: %w", sum.Sections[i].Target, err)
			}
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, noData := sum.Counts()
	if _, err := tx.Exec(`
		INSERT INTO cycles (id, started_at, duration_ms, sections, no_data, records, dropped)
		VALUES (?,?,?,?,?,?,?)`,
		sum.CycleID, sum.At.UnixNano(), sum.Duration.Milliseconds(),
		len(sum.Sections), noData, sum.Records(), sum.Dropped(),
	); err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO gap_log
			(cycle_id, timestamp, city, metric, market_date, bucket_low, bucket_high,
			 market_prob, forecast_prob, gap, note)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range sum.Sections {
		sec := &sum.Sections[i]
		if sec.NoData {
			note := "no data: " + string(sec.Reason)
			if sec.Detail != "" {
				note += ": " + sec.Detail
			}
			if _, err := stmt.Exec(sum.CycleID, sum.At.UnixNano(), sec.Target.City, string(sec.Target.Metric),
				sec.Target.DateString(), nil, nil, nil, nil, nil, note); err != nil {
				return fmt.Errorf("failed to insert marker row: %w", err)
			}
			continue
		}
		for _, r := range sec.Records {
			note := ""
			if r.MarketProb == nil {
				note = "no market"
			}
			if _, err := stmt.Exec(sum.CycleID, r.Timestamp.UnixNano(), r.City, string(r.Metric),
				r.MarketDate.Format(models.DateLayout), r.Bucket.LowPtr(), r.Bucket.HighPtr(),
				r.MarketProb, r.ForecastProb, r.Gap, note); err != nil {
				return fmt.Errorf("failed to insert gap row: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GapRows returns the rows logged at or after since, in insertion order. A
// zero since returns everything.
func (s *Storage) GapRows(since time.Time) ([]GapRow, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := s.db.Query(`
		SELECT id, cycle_id, timestamp, city, metric, market_date, bucket_low, bucket_high,
		       market_prob, forecast_prob, gap, note
		FROM gap_log WHERE timestamp >= ? ORDER BY id`, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query gap log: %w", err)
	}
	defer rows.Close()

	var out []GapRow
	for rows.Next() {
		var r GapRow
		var ts int64
		var metric string
		var low, high sql.NullInt64
		var mkt, fc, gap sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.CycleID, &ts, &r.City, &metric, &r.MarketDate,
			&low, &high, &mkt, &fc, &gap, &r.Note); err != nil {
			return nil, fmt.Errorf("failed to scan gap row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		r.Metric = models.Metric(metric)
		r.BucketLow = nullInt(low)
		r.BucketHigh = nullInt(high)
		r.MarketProb = nullFloat(mkt)
		r.ForecastProb = nullFloat(fc)
		r.Gap = nullFloat(gap)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastCycle returns the most recent cycle, or nil if none was logged.
func (s *Storage) LastCycle() (*CycleRow, error) {
	var c CycleRow
	var started, durMS int64
	err := s.db.QueryRow(`
		SELECT id, started_at, duration_ms, sections, no_data, records, dropped
		FROM cycles ORDER BY started_at DESC LIMIT 1`).
		Scan(&c.ID, &started, &durMS, &c.Sections, &c.NoData, &c.Records, &c.Dropped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last cycle: %w", err)
	}
	c.StartedAt = time.Unix(0, started)
	c.Duration = time.Duration(durMS) * time.Millisecond
	return &c, nil
}

// Rotate deletes gap rows and cycles older than retention relative to now.
// A non-positive retention keeps everything.
func (s *Storage) Rotate(retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-retention).UnixNano()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM gap_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate gap log: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM cycles WHERE started_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to rotate cycles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
