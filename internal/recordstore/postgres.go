package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all operatord instances sharing a database.
const advisoryLockKey = int64(1_337_406_117)

const pgSelectColumns = `idx, record_id, prev, key_id, signature, content, ts_seconds, ts_nanos, accepted_at`

// PostgresStore persists operator records to the operator_records table.
// The schema lives in migrations/001_operator_records.up.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store.
// The length check and insert run in one transaction holding an advisory
// lock, so the index check cannot race another instance.
func (s *PostgresStore) Append(ctx context.Context, rec *StoredRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var n int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM operator_records").Scan(&n); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if rec.Index != n {
		return fmt.Errorf("%w: index %d, length %d", ErrConflict, rec.Index, n)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO operator_records (idx, record_id, prev, key_id, signature, content, ts_seconds, ts_nanos, accepted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Index, rec.RecordID, rec.Prev, rec.KeyID, rec.Signature, rec.ContentBytes,
		rec.Timestamp.Unix(), rec.Timestamp.Nanosecond(), rec.AcceptedAt,
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record tx: %w", err)
	}

	s.logger.Debug("operator record stored",
		zap.Int("idx", rec.Index),
		zap.String("record_id", rec.RecordID),
		zap.String("key_id", rec.KeyID),
	)
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, index int) (*StoredRecord, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx,
		`SELECT `+pgSelectColumns+` FROM operator_records WHERE idx = $1`, index,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", index, err)
	}
	return rec, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM operator_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context) (*StoredRecord, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx,
		`SELECT `+pgSelectColumns+` FROM operator_records ORDER BY idx DESC LIMIT 1`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get head record: %w", err)
	}
	return rec, nil
}

// Scan implements Store. Rows are streamed; O(n) in log length.
func (s *PostgresStore) Scan(ctx context.Context, fn func(*StoredRecord) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgSelectColumns+` FROM operator_records ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record row: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanPgRecord(row pgx.Row) (*StoredRecord, error) {
	var (
		rec     StoredRecord
		seconds int64
		nanos   int64
	)
	if err := row.Scan(
		&rec.Index, &rec.RecordID, &rec.Prev, &rec.KeyID, &rec.Signature,
		&rec.ContentBytes, &seconds, &nanos, &rec.AcceptedAt,
	); err != nil {
		return nil, err
	}
	rec.Timestamp = time.Unix(seconds, nanos).UTC()
	rec.AcceptedAt = rec.AcceptedAt.UTC()
	return &rec, nil
}
