package recordstore

import "context"

// Store is the append-only record log.
// MemoryStore, PostgresStore and SQLiteStore implement this interface.
type Store interface {
	// Append stores rec at rec.Index. It returns ErrConflict when rec.Index
	// is not the current length.
	Append(ctx context.Context, rec *StoredRecord) error

	// Get returns the record at the given zero-based index.
	Get(ctx context.Context, index int) (*StoredRecord, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// Head returns the last stored record, or nil when the store is empty.
	Head(ctx context.Context) (*StoredRecord, error)

	// Scan calls fn for every record in index order, stopping at the first
	// error fn returns.
	Scan(ctx context.Context, fn func(*StoredRecord) error) error
}
