package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"markpaste/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultQueryTimeout = 5 * time.Second
	cleanupBatchSize    = 100
	cleanupMaxBatches   = 10000
)

// SQLite stores pastes and the analytics record. Timestamps are kept as
// Unix milliseconds.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}
func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	switch atomic.LoadInt32(&s.circuitState) {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

// begin checks the breaker and derives the per-query deadline.
func (s *SQLite) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	return qctx, cancel, nil
}
func (s *SQLite) migrate() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return errors.Wrap(err, p)
		}
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS analytics (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
func (s *SQLite) Create(ctx context.Context, p *domain.Paste) error {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = s.db.ExecContext(qctx,
		`INSERT INTO pastes (id, content, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Content, p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli(),
	)
	s.recordError(err)
	return errors.Wrap(err, "db create")
}

// Get returns the stored record whether or not it has expired.
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	var p domain.Paste
	var created, expires int64
	err = s.db.QueryRowContext(qctx,
		`SELECT id, content, created_at, expires_at FROM pastes WHERE id = ?`, id,
	).Scan(&p.ID, &p.Content, &created, &expires)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	p.CreatedAt = fromMillis(created)
	p.ExpiresAt = fromMillis(expires)
	return &p, nil
}
func (s *SQLite) Delete(ctx context.Context, id string) error {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = s.db.ExecContext(qctx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	var exists int
	err = s.db.QueryRowContext(qctx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

// CleanupExpired deletes pastes with expires_at <= before in batches.
func (s *SQLite) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	cutoff := before.UnixMilli()
	total := 0
	for i := 0; i < cleanupMaxBatches; i++ {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(qctx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at <= ?
				LIMIT ?
			)
		`, cutoff, cleanupBatchSize)
		cancel()
		s.recordError(err)
		if err != nil {
			return total, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		total += int(deleted)
		if deleted < cleanupBatchSize {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return total, errors.New("cleanup hit iteration limit, more records may exist")
}

// LoadCounters returns the analytics record, creating it on first use.
func (s *SQLite) LoadCounters(ctx context.Context, now time.Time) (*domain.Counters, error) {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	initial, err := json.Marshal(domain.NewCounters(now))
	if err != nil {
		return nil, errors.Wrap(err, "marshal counters")
	}
	_, err = s.db.ExecContext(qctx,
		`INSERT OR IGNORE INTO analytics (id, doc, updated_at) VALUES (?, ?, ?)`,
		domain.CountersID, string(initial), now.UnixMilli(),
	)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "init counters")
	}
	var doc string
	err = s.db.QueryRowContext(qctx, `SELECT doc FROM analytics WHERE id = ?`, domain.CountersID).Scan(&doc)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "load counters")
	}
	var c domain.Counters
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, errors.Wrap(err, "decode counters")
	}
	c.Normalize()
	return &c, nil
}
func (s *SQLite) SaveCounters(ctx context.Context, c *domain.Counters) error {
	qctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	doc, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal counters")
	}
	_, err = s.db.ExecContext(qctx, `
		INSERT INTO analytics (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, domain.CountersID, string(doc), c.LastUpdated.UnixMilli())
	s.recordError(err)
	return errors.Wrap(err, "save counters")
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
