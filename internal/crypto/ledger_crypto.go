package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyCommitmentContext = "bursa-key-commitment"
	fieldAADVersion      = "v1"
)

var (
	ErrInvalidKEK         = errors.New("invalid kek")
	ErrInvalidWrappedKey  = errors.New("invalid wrapped key")
	ErrCommitmentMismatch = errors.New("key commitment mismatch")
	ErrCipherNotReady     = errors.New("ledger cipher not ready")
)

// WrappedKey is the ledger master key sealed under a passphrase-derived KEK.
// It is safe to persist alongside the database.
type WrappedKey struct {
	Ciphertext []byte
	Nonce      []byte
	AAD        []byte
}

type EncryptedBlob struct {
	Ciphertext []byte
	Nonce      []byte
}

// LedgerCipher seals and opens sensitive record fields using per-field
// subkeys derived from the ledger master key (LMK). The LMK never leaves
// its locked buffer.
type LedgerCipher struct {
	lmk      *memguard.LockedBuffer
	ledgerID string
}

func NewLedgerCipher(lmk *memguard.LockedBuffer, ledgerID string) *LedgerCipher {
	return &LedgerCipher{lmk: lmk, ledgerID: ledgerID}
}

func GenerateMasterKey() (*memguard.LockedBuffer, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	defer memguard.WipeBytes(raw)

	return memguard.NewBufferFromBytes(raw), nil
}

func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		return nil, fmt.Errorf("generate salt: length must be >= 16, got %d", length)
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func WrapMasterKey(kek []byte, lmk *memguard.LockedBuffer, ledgerID string) (WrappedKey, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return WrappedKey{}, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKEK, chacha20poly1305.KeySize)
	}
	if lmk == nil || !lmk.IsAlive() {
		return WrappedKey{}, ErrCipherNotReady
	}

	nonce, err := randomNonce(chacha20poly1305.NonceSizeX)
	if err != nil {
		return WrappedKey{}, err
	}

	aad := wrapAssociatedData(ledgerID)
	ciphertext, err := SealXChaCha20Poly1305(kek, nonce, lmk.Bytes(), aad)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("wrap master key: %w", err)
	}

	return WrappedKey{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		AAD:        aad,
	}, nil
}

// UnwrapMasterKey recovers the LMK and verifies its commitment tag. A KEK
// derived from the wrong passphrase fails AEAD authentication and surfaces
// as ErrInvalidKEK; a tag mismatch on an authenticated unwrap means the
// stored bundle itself is inconsistent.
func UnwrapMasterKey(kek []byte, wrapped WrappedKey, commitmentTag []byte) (*memguard.LockedBuffer, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKEK, chacha20poly1305.KeySize)
	}
	if len(wrapped.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidWrappedKey, chacha20poly1305.NonceSizeX)
	}
	if len(wrapped.Ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext must not be empty", ErrInvalidWrappedKey)
	}
	if len(commitmentTag) == 0 {
		return nil, fmt.Errorf("%w: commitment tag must not be empty", ErrInvalidWrappedKey)
	}

	plaintext, err := OpenXChaCha20Poly1305(kek, wrapped.Nonce, wrapped.Ciphertext, wrapped.AAD)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, ErrInvalidKEK
		}
		return nil, fmt.Errorf("unwrap master key: %w", err)
	}

	expectedTag := ComputeCommitmentTag(plaintext)
	if !hmac.Equal(expectedTag, commitmentTag) {
		memguard.WipeBytes(plaintext)
		return nil, ErrCommitmentMismatch
	}

	buf := memguard.NewBufferFromBytes(plaintext)
	memguard.WipeBytes(plaintext)
	return buf, nil
}

func ComputeCommitmentTag(lmk []byte) []byte {
	mac := hmac.New(sha256.New, lmk)
	mac.Write([]byte(keyCommitmentContext))
	return mac.Sum(nil)
}

func (lc *LedgerCipher) EncryptField(entityType, entityID, fieldName string, plaintext []byte) (EncryptedBlob, error) {
	if err := lc.ensureReady(); err != nil {
		return EncryptedBlob{}, err
	}

	dek, err := lc.deriveFieldDEK(entityType, entityID, fieldName)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("derive field key: %w", err)
	}
	defer memguard.WipeBytes(dek)

	nonce, err := randomNonce(chacha20poly1305.NonceSizeX)
	if err != nil {
		return EncryptedBlob{}, err
	}

	aad := fieldAssociatedData(lc.ledgerID, entityType, entityID, fieldName)
	ciphertext, err := SealXChaCha20Poly1305(dek, nonce, plaintext, aad)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("encrypt field: %w", err)
	}

	return EncryptedBlob{
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}, nil
}

func (lc *LedgerCipher) DecryptField(entityType, entityID, fieldName string, blob EncryptedBlob) ([]byte, error) {
	if err := lc.ensureReady(); err != nil {
		return nil, err
	}

	dek, err := lc.deriveFieldDEK(entityType, entityID, fieldName)
	if err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	defer memguard.WipeBytes(dek)

	aad := fieldAssociatedData(lc.ledgerID, entityType, entityID, fieldName)
	return OpenXChaCha20Poly1305(dek, blob.Nonce, blob.Ciphertext, aad)
}

func (lc *LedgerCipher) CommitmentTag() ([]byte, error) {
	if err := lc.ensureReady(); err != nil {
		return nil, err
	}
	return ComputeCommitmentTag(lc.lmk.Bytes()), nil
}

func (lc *LedgerCipher) Destroy() {
	if lc == nil || lc.lmk == nil {
		return
	}
	if lc.lmk.IsAlive() {
		lc.lmk.Destroy()
	}
	lc.lmk = nil
}

func (lc *LedgerCipher) deriveFieldDEK(entityType, entityID, fieldName string) ([]byte, error) {
	if err := lc.ensureReady(); err != nil {
		return nil, err
	}

	info := []byte(fieldAADVersion + ":" + entityType + ":" + entityID + ":" + fieldName)
	dek, err := DeriveHKDFSHA256(lc.lmk.Bytes(), nil, info, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive hkdf subkey: %w", err)
	}
	return dek, nil
}

func (lc *LedgerCipher) ensureReady() error {
	if lc == nil || lc.lmk == nil || !lc.lmk.IsAlive() {
		return ErrCipherNotReady
	}
	return nil
}

func wrapAssociatedData(ledgerID string) []byte {
	return []byte("bursa-lmk:" + ledgerID)
}

func fieldAssociatedData(ledgerID, entityType, entityID, fieldName string) []byte {
	return []byte("bursa-field:" + ledgerID + ":" + fieldAADVersion + ":" + entityType + ":" + entityID + ":" + fieldName)
}
