// Package config loads the bursa TOML configuration with sane defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultLedgerFileName = "ledger.db"
	defaultBusyTimeoutMS  = 5000
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 10
	defaultLogMaxFiles    = 5
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Keystore KeystoreConfig `toml:"keystore"`
	Logging  LoggingConfig  `toml:"logging"`
}

type StorageConfig struct {
	// Dir holds the ledger file and its WAL sidecars.
	Dir           string `toml:"dir"`
	FileName      string `toml:"file_name"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

type KeystoreConfig struct {
	// Dir must stay outside the storage dir: removing the database
	// directory must not take the passphrase entry with it.
	Dir string `toml:"dir"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

func DefaultConfig() (Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve user config dir: %w", err)
	}
	return Config{
		Storage: StorageConfig{
			Dir:           filepath.Join(configDir, "bursa", "data"),
			FileName:      defaultLedgerFileName,
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Keystore: KeystoreConfig{
			Dir: filepath.Join(configDir, "bursa", "keystore"),
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}, nil
}

// Load reads the config file at path if it exists, layering it over the
// defaults. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	if path == "" {
		return cfg, cfg.validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.validate()
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.validate()
}

// LedgerPath is the resolved location of the encrypted database file.
func (c Config) LedgerPath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.FileName)
}

// KeystoreDir is where the file-backed keystore keeps its entries,
// separate from the database directory.
func (c Config) KeystoreDir() string {
	return c.Keystore.Dir
}

func (c Config) validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("%w: storage.dir must not be empty", ErrInvalidConfig)
	}
	if c.Storage.FileName == "" {
		return fmt.Errorf("%w: storage.file_name must not be empty", ErrInvalidConfig)
	}
	if c.Storage.BusyTimeoutMS < 0 {
		return fmt.Errorf("%w: storage.busy_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if c.Keystore.Dir == "" {
		return fmt.Errorf("%w: keystore.dir must not be empty", ErrInvalidConfig)
	}
	if dirContains(c.Storage.Dir, c.Keystore.Dir) {
		return fmt.Errorf("%w: keystore.dir must not live inside storage.dir", ErrInvalidConfig)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging rotation limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

func dirContains(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
