// Package keystore abstracts the platform secure keystore that holds the
// database passphrase outside the database file itself.
package keystore

import "errors"

var (
	// ErrUnavailable means the backing keystore cannot be reached. The
	// storage subsystem must not start without it.
	ErrUnavailable = errors.New("keystore: unavailable")
	ErrNotFound    = errors.New("keystore: entry not found")
)

// Keystore is a named-secret store. Implementations are expected to be
// backed by hardware or OS secret storage; writes are atomic at the
// backend's level and no retry is attempted here.
type Keystore interface {
	Get(name string) ([]byte, error)
	Set(name string, value []byte) error
	Delete(name string) error
}
