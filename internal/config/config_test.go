package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "ledger.db", cfg.Storage.FileName)
	require.Equal(t, 5000, cfg.Storage.BusyTimeoutMS)
	require.Equal(t, "info", cfg.Logging.Level)
	require.NotEmpty(t, cfg.Storage.Dir)
	require.NotEmpty(t, cfg.KeystoreDir())
	require.NotEqual(t, cfg.Storage.Dir, cfg.KeystoreDir())
	require.False(t, strings.HasPrefix(cfg.KeystoreDir(), cfg.Storage.Dir+string(filepath.Separator)))
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bursa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
dir = "/tmp/bursa-test"
file_name = "books.db"

[keystore]
dir = "/tmp/bursa-keys"

[logging]
level = "debug"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/bursa-test", cfg.Storage.Dir)
	require.Equal(t, "books.db", cfg.Storage.FileName)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, filepath.Join("/tmp/bursa-test", "books.db"), cfg.LedgerPath())
	require.Equal(t, "/tmp/bursa-keys", cfg.KeystoreDir())
}

func TestValidateRejectsKeystoreInsideStorageDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bursa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
dir = "/tmp/bursa-test"

[keystore]
dir = "/tmp/bursa-test/keystore"
`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bursa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`storage = "nope`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejectsNegativeBusyTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bursa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
dir = "/tmp/bursa-test"
busy_timeout_ms = -1
`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejectsEmptyDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bursa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
dir = ""
`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
