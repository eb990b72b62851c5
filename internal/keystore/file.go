package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileKeystore stores entries as 0600 files under a 0700 directory. It
// stands in for the platform enclave on hosts without one; entries still
// live outside the database file and its sidecars.
type FileKeystore struct {
	dir string
}

func NewFileKeystore(dir string) (*FileKeystore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrUnavailable)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrUnavailable, err)
	}
	return &FileKeystore{dir: dir}, nil
}

func (ks *FileKeystore) Get(name string) ([]byte, error) {
	path, err := ks.entryPath(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: read entry: %v", ErrUnavailable, err)
	}
	value, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: decode entry %s: %v", ErrUnavailable, name, err)
	}
	return value, nil
}

func (ks *FileKeystore) Set(name string, value []byte) error {
	path, err := ks.entryPath(name)
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn entry.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(value)), 0o600); err != nil {
		return fmt.Errorf("%w: write entry: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: commit entry: %v", ErrUnavailable, err)
	}
	return nil
}

func (ks *FileKeystore) Delete(name string) error {
	path, err := ks.entryPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("%w: delete entry: %v", ErrUnavailable, err)
	}
	return nil
}

func (ks *FileKeystore) entryPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: invalid entry name %q", ErrUnavailable, name)
	}
	return filepath.Join(ks.dir, name+".key"), nil
}
