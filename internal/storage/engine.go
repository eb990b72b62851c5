package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"

	"github.com/bursadev/bursa/internal/crypto"
)

const defaultBusyTimeout = 5 * time.Second

type openConfig struct {
	busyTimeout time.Duration
}

type Option func(*openConfig)

// WithBusyTimeout overrides how long a blocked connection waits on the
// sqlite lock before failing.
func WithBusyTimeout(d time.Duration) Option {
	return func(cfg *openConfig) {
		if d > 0 {
			cfg.busyTimeout = d
		}
	}
}

// Engine is the single live handle on the encrypted ledger file. It owns
// the connection pool and the unwrapped ledger cipher; record stores only
// borrow them. One Engine per process.
type Engine struct {
	db       *sql.DB
	path     string
	ledgerID string
	cipher   *crypto.LedgerCipher

	// Serializes write transactions in submission order.
	writeMu sync.Mutex
}

// wrappedLMKBundle is the persisted envelope for the ledger master key.
// Binary fields are hex-encoded for ledger_meta's TEXT value column.
type wrappedLMKBundle struct {
	Ciphertext    string `json:"ciphertext"`
	Nonce         string `json:"nonce"`
	AAD           string `json:"aad"`
	Argon2Salt    string `json:"argon2_salt"`
	CommitmentTag string `json:"commitment_tag"`
	Memory        uint32 `json:"argon2_memory"`
	Iterations    uint32 `json:"argon2_iterations"`
	Parallelism   uint8  `json:"argon2_parallelism"`
	KeyLen        uint32 `json:"argon2_key_len"`
}

// Open creates or opens the ledger file at path, keyed by the keystore
// passphrase. A file written under a different passphrase fails with
// ErrWrongPassphrase; it is never silently replaced by a fresh store.
func Open(path string, passphrase *memguard.LockedBuffer, opts ...Option) (*Engine, error) {
	cfg := openConfig{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrOpen)
	}
	if passphrase == nil || !passphrase.IsAlive() {
		return nil, fmt.Errorf("%w: passphrase is nil or destroyed", ErrOpen)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create parent dir: %v", ErrOpen, err)
	}

	db, err := sql.Open("sqlite", ledgerDSN(path, cfg.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Passphrase verification comes first: an open that is going to fail
	// with ErrWrongPassphrase must not upgrade the file's schema on the
	// way out.
	if err := ensureMigrationTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ledgerID, cipher, err := unlockCipher(db, passphrase)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(db, DefaultMigrations()); err != nil {
		cipher.Destroy()
		_ = db.Close()
		return nil, err
	}

	if err := ensureFilePermissions(path); err != nil {
		cipher.Destroy()
		_ = db.Close()
		return nil, err
	}

	return &Engine{
		db:       db,
		path:     path,
		ledgerID: ledgerID,
		cipher:   cipher,
	}, nil
}

// Close checkpoints the WAL into the main file and releases the
// connection. After a successful Close every committed write is present
// in the main file.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	if _, err := e.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		_ = e.db.Close()
		e.cipher.Destroy()
		return fmt.Errorf("close: checkpoint wal: %w", err)
	}
	err := e.db.Close()
	e.cipher.Destroy()
	e.db = nil
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Checkpoint merges the WAL into the main file without closing.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	return nil
}

func (e *Engine) Path() string {
	if e == nil {
		return ""
	}
	return e.path
}

func (e *Engine) LedgerID() string {
	if e == nil {
		return ""
	}
	return e.ledgerID
}

// Stores returns record stores bound to the shared connection. Each call
// on them is individually atomic.
func (e *Engine) Stores() Stores {
	return newStores(e.db, e.cipher)
}

// WithTx runs fn against tx-bound stores inside one write transaction.
// Writers serialize in submission order; an error rolls everything back
// with no partial effect.
func (e *Engine) WithTx(ctx context.Context, fn func(Stores) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(newStores(tx, e.cipher)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	if err := e.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&raw); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return version, nil
}

// Stats reports row counts per entity table.
func (e *Engine) Stats(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"accounts", "categories", "counterparties", "transactions",
		"partial_payments", "reminders", "tasks", "checklist_items",
		"audit_events",
	}
	out := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := e.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = count
	}
	return out, nil
}

// ledgerDSN carries the per-connection pragmas in the DSN so the driver
// applies them to every connection the pool opens, not just the one that
// happened to run an Exec at open time. foreign_keys, busy_timeout,
// synchronous and wal_autocheckpoint all reset per connection in sqlite.
func ledgerDSN(path string, busyTimeout time.Duration) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		fmt.Sprintf("&_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()) +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=wal_autocheckpoint(0)"
}

// configureSQLite sets the persistent file-level state. journal_mode=WAL
// sticks to the database file, so one Exec at open time is enough.
func configureSQLite(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("%w: set journal mode: %v", ErrOpen, err)
	}
	return nil
}

func ensureFilePermissions(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Chmod(p, 0o600); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: set file permissions: %v", ErrOpen, err)
			}
		}
	}
	return nil
}

// unlockCipher verifies the passphrase against the persisted key bundle,
// or initializes the bundle on the first open of a fresh file.
func unlockCipher(db *sql.DB, passphrase *memguard.LockedBuffer) (string, *crypto.LedgerCipher, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM ledger_meta WHERE key = ?`, wrappedKeyMetaKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return initCipher(db, passphrase)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: load key bundle: %v", ErrOpen, err)
	}

	var bundle wrappedLMKBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return "", nil, fmt.Errorf("%w: decode key bundle: %v", ErrOpen, err)
	}

	ledgerID, err := readLedgerID(db)
	if err != nil {
		return "", nil, err
	}

	wrapped, tag, params, err := decodeBundle(bundle)
	if err != nil {
		return "", nil, err
	}

	kek, err := crypto.DeriveKEK(passphrase.Bytes(), mustHex(bundle.Argon2Salt), params)
	if err != nil {
		return "", nil, fmt.Errorf("%w: derive kek: %v", ErrOpen, err)
	}
	defer memguard.WipeBytes(kek)

	lmk, err := crypto.UnwrapMasterKey(kek, wrapped, tag)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidKEK) || errors.Is(err, crypto.ErrCommitmentMismatch) {
			return "", nil, ErrWrongPassphrase
		}
		return "", nil, fmt.Errorf("%w: unwrap master key: %v", ErrOpen, err)
	}

	return ledgerID, crypto.NewLedgerCipher(lmk, ledgerID), nil
}

func initCipher(db *sql.DB, passphrase *memguard.LockedBuffer) (string, *crypto.LedgerCipher, error) {
	ledgerID := uuid.NewString()
	params := crypto.DefaultArgon2Params()

	salt, err := crypto.GenerateSalt(params.SaltLen)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	kek, err := crypto.DeriveKEK(passphrase.Bytes(), salt, params)
	if err != nil {
		return "", nil, fmt.Errorf("%w: derive kek: %v", ErrOpen, err)
	}
	defer memguard.WipeBytes(kek)

	lmk, err := crypto.GenerateMasterKey()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	wrapped, err := crypto.WrapMasterKey(kek, lmk, ledgerID)
	if err != nil {
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: wrap master key: %v", ErrOpen, err)
	}

	bundle := wrappedLMKBundle{
		Ciphertext:    hex.EncodeToString(wrapped.Ciphertext),
		Nonce:         hex.EncodeToString(wrapped.Nonce),
		AAD:           hex.EncodeToString(wrapped.AAD),
		Argon2Salt:    hex.EncodeToString(salt),
		CommitmentTag: hex.EncodeToString(crypto.ComputeCommitmentTag(lmk.Bytes())),
		Memory:        params.Memory,
		Iterations:    params.Iterations,
		Parallelism:   params.Parallelism,
		KeyLen:        params.KeyLen,
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: encode key bundle: %v", ErrOpen, err)
	}

	tx, err := db.Begin()
	if err != nil {
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: begin key init: %v", ErrOpen, err)
	}
	if _, err := tx.Exec(`INSERT INTO ledger_meta(key, value) VALUES(?, ?)`, ledgerIDMetaKey, ledgerID); err != nil {
		_ = tx.Rollback()
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: store ledger id: %v", ErrOpen, err)
	}
	if _, err := tx.Exec(`INSERT INTO ledger_meta(key, value) VALUES(?, ?)`, wrappedKeyMetaKey, string(data)); err != nil {
		_ = tx.Rollback()
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: store key bundle: %v", ErrOpen, err)
	}
	if err := tx.Commit(); err != nil {
		lmk.Destroy()
		return "", nil, fmt.Errorf("%w: commit key init: %v", ErrOpen, err)
	}

	return ledgerID, crypto.NewLedgerCipher(lmk, ledgerID), nil
}

func readLedgerID(db *sql.DB) (string, error) {
	var ledgerID string
	if err := db.QueryRow(`SELECT value FROM ledger_meta WHERE key = ?`, ledgerIDMetaKey).Scan(&ledgerID); err != nil {
		return "", fmt.Errorf("%w: read ledger id: %v", ErrOpen, err)
	}
	return ledgerID, nil
}

func decodeBundle(bundle wrappedLMKBundle) (crypto.WrappedKey, []byte, crypto.Argon2Params, error) {
	for _, field := range []string{bundle.Ciphertext, bundle.Nonce, bundle.AAD, bundle.Argon2Salt, bundle.CommitmentTag} {
		if _, err := hex.DecodeString(field); err != nil {
			return crypto.WrappedKey{}, nil, crypto.Argon2Params{}, fmt.Errorf("%w: malformed key bundle: %v", ErrOpen, err)
		}
	}

	wrapped := crypto.WrappedKey{
		Ciphertext: mustHex(bundle.Ciphertext),
		Nonce:      mustHex(bundle.Nonce),
		AAD:        mustHex(bundle.AAD),
	}
	params := crypto.Argon2Params{
		Memory:      bundle.Memory,
		Iterations:  bundle.Iterations,
		Parallelism: bundle.Parallelism,
		SaltLen:     len(mustHex(bundle.Argon2Salt)),
		KeyLen:      bundle.KeyLen,
	}
	return wrapped, mustHex(bundle.CommitmentTag), params, nil
}

func mustHex(s string) []byte {
	out, _ := hex.DecodeString(s)
	return out
}

func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == 19 // SQLITE_CONSTRAINT and extended codes
	}
	return false
}
