// Package recordstore persists accepted operator records in log order.
//
// A store holds opaque rows; it never validates records. Append enforces
// only the position: a record's Index must equal the current length, so two
// writers racing on the same head cannot both succeed.
//
// Three implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//   - SQLiteStore: durable, single file, for small deployments.
package recordstore
