package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle that keeps per-page visitor history.
type Store struct {
	db *sql.DB
}

// PageStats is one row of the page_stats table.
type PageStats struct {
	Page        string
	LastCount   int
	PeakCount   int
	PeakAt      time.Time
	TotalEvents int64
	UpdatedAt   time.Time
}

// ErrInvalidPage is returned when a page key is empty.
var ErrInvalidPage = errors.New("page is required")

// ErrInvalidCount is returned when a negative visitor count is recorded.
var ErrInvalidCount = errors.New("visitor count must not be negative")

// NewStore opens the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "visitortracker.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate creates the schema. Running it twice is harmless.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS page_stats (
			page TEXT PRIMARY KEY,
			last_count INTEGER NOT NULL CHECK (last_count >= 0),
			peak_count INTEGER NOT NULL CHECK (peak_count >= 0),
			peak_at INTEGER NOT NULL,
			total_events INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS page_stats_peak ON page_stats(peak_count DESC);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordCount stores the latest visitor count for page. The peak only ever grows.
func (s *Store) RecordCount(ctx context.Context, page string, count int, at time.Time) error {
	if page == "" {
		return ErrInvalidPage
	}
	ms := at.UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_stats(page, last_count, peak_count, peak_at, total_events, updated_at)
		VALUES(?, ?, ?, ?, 1, ?)
		ON CONFLICT(page) DO UPDATE SET
			last_count = excluded.last_count,
			peak_at = CASE WHEN excluded.last_count > page_stats.peak_count THEN excluded.peak_at ELSE page_stats.peak_at END,
			peak_count = MAX(page_stats.peak_count, excluded.last_count),
			total_events = page_stats.total_events + 1,
			updated_at = excluded.updated_at`,
		page, count, count, ms, ms)
	if err != nil {
		if isConstraintError(err) {
			return ErrInvalidCount
		}
		return fmt.Errorf("record count for %q: %w", page, err)
	}
	return nil
}

// GetPageStats returns nil when the page has never been recorded.
func (s *Store) GetPageStats(ctx context.Context, page string) (*PageStats, error) {
	if page == "" {
		return nil, ErrInvalidPage
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT page, last_count, peak_count, peak_at, total_events, updated_at
		FROM page_stats WHERE page = ?`, page)
	stats, err := scanPageStats(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return stats, nil
}

// TopPages lists pages by peak visitor count, highest first.
func (s *Store) TopPages(ctx context.Context, limit int) ([]PageStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT page, last_count, peak_count, peak_at, total_events, updated_at
		FROM page_stats ORDER BY peak_count DESC, page ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []PageStats
	for rows.Next() {
		stats, err := scanPageStats(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *stats)
	}
	return pages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPageStats(row scanner) (*PageStats, error) {
	var (
		stats     PageStats
		peakAt    int64
		updatedAt int64
	)
	if err := row.Scan(&stats.Page, &stats.LastCount, &stats.PeakCount, &peakAt, &stats.TotalEvents, &updatedAt); err != nil {
		return nil, err
	}
	stats.PeakAt = time.UnixMilli(peakAt)
	stats.UpdatedAt = time.UnixMilli(updatedAt)
	return &stats, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
