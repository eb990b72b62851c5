package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

const (
	// PassphraseEntry is the fixed application-scoped identifier of the
	// database passphrase in the keystore. Stable across versions.
	PassphraseEntry = "bursa-db-passphrase"

	passphraseLen = 32
)

// GetOrCreatePassphrase returns the installation's passphrase, generating
// and persisting a fresh 256-bit one on first run. The caller owns the
// returned buffer and should destroy it once the engine is open.
func GetOrCreatePassphrase(ks Keystore) (*memguard.LockedBuffer, error) {
	if ks == nil {
		return nil, fmt.Errorf("%w: nil keystore", ErrUnavailable)
	}

	existing, err := ks.Get(PassphraseEntry)
	if err == nil {
		if len(existing) == 0 {
			return nil, fmt.Errorf("%w: empty passphrase entry", ErrUnavailable)
		}
		buf := memguard.NewBufferFromBytes(existing)
		memguard.WipeBytes(existing)
		return buf, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	raw := make([]byte, passphraseLen)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate passphrase: %w", err)
	}
	if err := ks.Set(PassphraseEntry, raw); err != nil {
		memguard.WipeBytes(raw)
		return nil, err
	}

	buf := memguard.NewBufferFromBytes(raw)
	memguard.WipeBytes(raw)
	return buf, nil
}
