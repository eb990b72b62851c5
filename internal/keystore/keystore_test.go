package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileKeystoreSetGetDelete(t *testing.T) {
	t.Parallel()

	ks, err := NewFileKeystore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, ks.Set("entry", []byte{0x01, 0x02, 0x03}))
	value, err := ks.Get("entry")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, value)

	require.NoError(t, ks.Delete("entry"))
	_, err = ks.Get("entry")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileKeystoreEntryPermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ks, err := NewFileKeystore(dir)
	require.NoError(t, err)
	require.NoError(t, ks.Set("entry", []byte("s")))

	info, err := os.Stat(filepath.Join(dir, "entry.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileKeystoreRejectsPathTraversalNames(t *testing.T) {
	t.Parallel()

	ks, err := NewFileKeystore(t.TempDir())
	require.NoError(t, err)
	require.ErrorIs(t, ks.Set("../escape", []byte("s")), ErrUnavailable)
	_, err = ks.Get("")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGetOrCreatePassphraseIsStable(t *testing.T) {
	t.Parallel()

	ks, err := NewFileKeystore(t.TempDir())
	require.NoError(t, err)

	first, err := GetOrCreatePassphrase(ks)
	require.NoError(t, err)
	defer first.Destroy()
	require.Len(t, first.Bytes(), 32)

	second, err := GetOrCreatePassphrase(ks)
	require.NoError(t, err)
	defer second.Destroy()
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestGetOrCreatePassphraseSurfacesKeystoreFailure(t *testing.T) {
	t.Parallel()

	_, err := GetOrCreatePassphrase(failingKeystore{})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = GetOrCreatePassphrase(nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

type failingKeystore struct{}

func (failingKeystore) Get(string) ([]byte, error) { return nil, ErrUnavailable }
func (failingKeystore) Set(string, []byte) error   { return ErrUnavailable }
func (failingKeystore) Delete(string) error        { return ErrUnavailable }
