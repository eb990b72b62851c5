// Package storage owns the encrypted SQLite ledger file: the single
// process-wide engine handle, WAL durability, versioned schema migrations
// and the typed record stores layered on the shared connection.
package storage
