package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS operator_records (
	idx         INTEGER PRIMARY KEY,
	record_id   TEXT    NOT NULL UNIQUE,
	prev        TEXT    NOT NULL DEFAULT '',
	key_id      TEXT    NOT NULL,
	signature   TEXT    NOT NULL,
	content     BLOB,
	ts_seconds  INTEGER NOT NULL,
	ts_nanos    INTEGER NOT NULL,
	accepted_at INTEGER NOT NULL
)`

const sqliteSelectColumns = `idx, record_id, prev, key_id, signature, content, ts_seconds, ts_nanos, accepted_at`

// SQLiteStore persists operator records to a SQLite database through
// database/sql and the pure-Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file at path and
// prepares the schema. The pool is limited to one connection so
// transactions are serialised within the process.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db, logger)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already opened database. Call Init before use
// unless the schema already exists.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Init creates the operator_records table if it does not exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec *StoredRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operator_records").Scan(&n); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if rec.Index != n {
		return fmt.Errorf("%w: index %d, length %d", ErrConflict, rec.Index, n)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO operator_records (idx, record_id, prev, key_id, signature, content, ts_seconds, ts_nanos, accepted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Index, rec.RecordID, rec.Prev, rec.KeyID, rec.Signature, rec.ContentBytes,
		rec.Timestamp.Unix(), rec.Timestamp.Nanosecond(), rec.AcceptedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record tx: %w", err)
	}

	s.logger.Debug("operator record stored",
		zap.Int("idx", rec.Index),
		zap.String("record_id", rec.RecordID),
	)
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, index int) (*StoredRecord, error) {
	rec, err := scanSQLRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM operator_records WHERE idx = ?`, index,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", index, err)
	}
	return rec, nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operator_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Head implements Store.
func (s *SQLiteStore) Head(ctx context.Context) (*StoredRecord, error) {
	rec, err := scanSQLRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM operator_records ORDER BY idx DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get head record: %w", err)
	}
	return rec, nil
}

// Scan implements Store. Rows are read fully before fn is called, which
// keeps the single pooled connection free for fn.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(*StoredRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM operator_records ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}

	var recs []*StoredRecord
	for rows.Next() {
		rec, err := scanSQLRecord(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan record row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLRecord(row sqlRow) (*StoredRecord, error) {
	var (
		rec        StoredRecord
		seconds    int64
		nanos      int64
		acceptedAt int64
	)
	if err := row.Scan(
		&rec.Index, &rec.RecordID, &rec.Prev, &rec.KeyID, &rec.Signature,
		&rec.ContentBytes, &seconds, &nanos, &acceptedAt,
	); err != nil {
		return nil, err
	}
	rec.Timestamp = time.Unix(seconds, nanos).UTC()
	rec.AcceptedAt = time.Unix(0, acceptedAt).UTC()
	return &rec, nil
}
