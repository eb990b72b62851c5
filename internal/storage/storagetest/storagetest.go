// Package storagetest is the test-harness construction path for the
// storage engine. It is the only place allowed to start from a scratch
// ledger file; the release open path never discards or recreates data.
package storagetest

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/require"

	"github.com/bursadev/bursa/internal/storage"
)

// NewPassphrase returns a random 256-bit passphrase, destroyed at test
// cleanup.
func NewPassphrase(t *testing.T) *memguard.LockedBuffer {
	t.Helper()
	raw := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, raw)
	require.NoError(t, err)
	buf := memguard.NewBufferFromBytes(raw)
	t.Cleanup(buf.Destroy)
	return buf
}

// OpenScratch opens a fresh ledger in a temp dir under a fresh passphrase.
func OpenScratch(t *testing.T) *storage.Engine {
	t.Helper()
	return OpenAt(t, ScratchPath(t), NewPassphrase(t))
}

// OpenAt opens (or reopens) the ledger at path with the given passphrase
// and closes it at test cleanup.
func OpenAt(t *testing.T, path string, passphrase *memguard.LockedBuffer) *storage.Engine {
	t.Helper()
	eng, err := storage.Open(path, passphrase)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// ScratchPath returns a ledger path in a fresh temp dir, removing any
// leftover file first.
func ScratchPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	_ = os.Remove(path)
	return path
}
