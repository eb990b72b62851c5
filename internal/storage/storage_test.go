package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

func TestRunMigrationsAppliesAllSequentially(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	defer closeNoErr(t, db)

	err := RunMigrations(db, DefaultMigrations())
	require.NoError(t, err)

	require.Equal(t, CurrentSchemaVersion(), mustSchemaVersion(t, db))

	expected := []string{
		"ledger_meta",
		"schema_migrations",
		"accounts",
		"categories",
		"counterparties",
		"transactions",
		"partial_payments",
		"reminders",
		"tasks",
		"checklist_items",
		"audit_events",
	}
	for _, table := range expected {
		require.Truef(t, tableExists(t, db, table), "expected table %s to exist", table)
	}
}

func TestRunMigrationsIsAtomic(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	defer closeNoErr(t, db)

	migrations := []Migration{
		{
			Version:     1,
			Description: "create a",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE test_a (id TEXT PRIMARY KEY)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create b then fail",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`CREATE TABLE test_b (id TEXT PRIMARY KEY)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	err := RunMigrations(db, migrations)
	require.ErrorIs(t, err, ErrMigration)
	require.Equal(t, 1, mustSchemaVersion(t, db))
	require.True(t, tableExists(t, db, "test_a"))
	require.False(t, tableExists(t, db, "test_b"))
}

func TestOpenRefusesNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	path := testLedgerPath(t)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, DefaultMigrations()))
	_, err = db.Exec(`UPDATE ledger_meta SET value = ? WHERE key = 'schema_version'`, CurrentSchemaVersion()+1)
	require.NoError(t, err)
	closeNoErr(t, db)

	eng, err := Open(path, testPassphrase(t))
	if eng != nil {
		t.Cleanup(func() { _ = eng.Close() })
	}
	require.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestOpenInitializesKeyBundleOnFirstRun(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	require.NotEmpty(t, eng.LedgerID())

	var bundle string
	err := eng.db.QueryRow(`SELECT value FROM ledger_meta WHERE key = ?`, wrappedKeyMetaKey).Scan(&bundle)
	require.NoError(t, err)
	require.Contains(t, bundle, "commitment_tag")
}

func TestOpenWithWrongPassphraseFails(t *testing.T) {
	t.Parallel()

	path := testLedgerPath(t)
	passphrase := testPassphrase(t)

	eng, err := Open(path, passphrase)
	require.NoError(t, err)
	ctx := context.Background()
	account := &Account{Name: "wallet", Kind: AccountCash, Currency: "EUR"}
	require.NoError(t, eng.Stores().Accounts.Insert(ctx, account))
	require.NoError(t, eng.Close())

	wrong := testPassphrase(t)
	reopened, err := Open(path, wrong)
	if reopened != nil {
		t.Cleanup(func() { _ = reopened.Close() })
	}
	require.ErrorIs(t, err, ErrWrongPassphrase)
	require.ErrorIs(t, err, ErrOpen)

	// The failed open must not have replaced the store.
	again, err := Open(path, passphrase)
	require.NoError(t, err)
	defer closeEngineNoErr(t, again)
	got, err := again.Stores().Accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "wallet", got.Name)
}

func TestInsertGetRoundTrip(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	account := &Account{Name: "checking", Kind: AccountBank, Currency: "USD"}
	require.NoError(t, stores.Accounts.Insert(ctx, account))
	require.NotEmpty(t, account.ID)
	require.False(t, account.CreatedAt.IsZero())

	got, err := stores.Accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, account.Name, got.Name)
	require.Equal(t, account.Kind, got.Kind)
	require.Equal(t, account.Currency, got.Currency)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Stores().Accounts.Get(ctx, "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)

	err = eng.Stores().Accounts.Update(ctx, &Account{ID: "no-such-id", Name: "x", Kind: AccountCash, Currency: "EUR"})
	require.ErrorIs(t, err, ErrNotFound)

	err = eng.Stores().Accounts.Delete(ctx, "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionNoteEncryptedAtRest(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	account := &Account{Name: "cash", Kind: AccountCash, Currency: "EUR"}
	require.NoError(t, stores.Accounts.Insert(ctx, account))

	txn := &Transaction{
		AccountID:   account.ID,
		AmountCents: -1250,
		OccurredAt:  time.Now().UTC(),
		Note:        []byte("dentist copay"),
	}
	require.NoError(t, stores.Transactions.Insert(ctx, txn))

	got, err := stores.Transactions.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("dentist copay"), got.Note)

	var ciphertext []byte
	err = eng.db.QueryRow(`SELECT note_ciphertext FROM transactions WHERE id = ?`, txn.ID).Scan(&ciphertext)
	require.NoError(t, err)
	require.NotContains(t, string(ciphertext), "dentist")
}

func TestUniqueNameConstraint(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	first := &Account{Name: "savings", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, eng.Stores().Accounts.Insert(ctx, first))

	dup := &Account{Name: "savings", Kind: AccountBank, Currency: "EUR"}
	err := eng.Stores().Accounts.Insert(ctx, dup)
	require.ErrorIs(t, err, ErrConstraint)
}

func TestPaymentRequiresExistingTransaction(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	payment := &PartialPayment{TransactionID: "missing", AmountCents: 100, PaidAt: time.Now().UTC()}
	err := eng.Stores().Payments.Insert(ctx, payment)
	require.ErrorIs(t, err, ErrConstraint)
}

func TestDeleteTransactionWithPaymentsIsRestricted(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	account := &Account{Name: "main", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, stores.Accounts.Insert(ctx, account))

	txn := &Transaction{AccountID: account.ID, AmountCents: 10000, OccurredAt: time.Now().UTC()}
	require.NoError(t, stores.Transactions.Insert(ctx, txn))

	payment := &PartialPayment{TransactionID: txn.ID, AmountCents: 4000, PaidAt: time.Now().UTC()}
	require.NoError(t, stores.Payments.Insert(ctx, payment))

	err := stores.Transactions.Delete(ctx, txn.ID)
	require.ErrorIs(t, err, ErrConstraint)

	require.NoError(t, stores.Payments.Delete(ctx, payment.ID))
	require.NoError(t, stores.Transactions.Delete(ctx, txn.ID))
}

func TestQueryIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	account := &Account{Name: "query", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, stores.Accounts.Insert(ctx, account))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		txn := &Transaction{
			AccountID:   account.ID,
			AmountCents: int64(100 * (i + 1)),
			OccurredAt:  base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, stores.Transactions.Insert(ctx, txn))
	}

	seq := stores.Transactions.Query(ctx, TransactionFilter{AccountID: account.ID})

	// Early break must not poison the sequence.
	seen := 0
	for _, err := range seq {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)

	// Ranging again re-runs the query from the start, in order.
	var amounts []int64
	for txn, err := range seq {
		require.NoError(t, err)
		amounts = append(amounts, txn.AmountCents)
	}
	require.Equal(t, []int64{100, 200, 300, 400, 500}, amounts)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	account := &Account{Name: "atomic", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, eng.Stores().Accounts.Insert(ctx, account))

	sentinel := errors.New("abort")
	err := eng.WithTx(ctx, func(stores Stores) error {
		txn := &Transaction{AccountID: account.ID, AmountCents: 500, OccurredAt: time.Now().UTC()}
		if err := stores.Transactions.Insert(ctx, txn); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	count := 0
	for _, err := range eng.Stores().Transactions.Query(ctx, TransactionFilter{AccountID: account.ID}) {
		require.NoError(t, err)
		count++
	}
	require.Zero(t, count)
}

func TestConcurrentConflictingInsertsExactlyOneWins(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]error, 2)
	for i := range results {
		g.Go(func() error {
			account := &Account{Name: "contended", Kind: AccountCash, Currency: "EUR"}
			results[i] = eng.Stores().Accounts.Insert(ctx, account)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failures := 0
	for _, err := range results {
		if err != nil {
			require.ErrorIs(t, err, ErrConstraint)
			failures++
		}
	}
	require.Equal(t, 1, failures)
}

func TestConcurrentReadsWhileWriting(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	account := &Account{Name: "busy", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, stores.Accounts.Insert(ctx, account))

	var g errgroup.Group
	for r := 0; r < 8; r++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				if _, err := stores.Accounts.Get(ctx, account.ID); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < 25; i++ {
			account.Currency = fmt.Sprintf("C%02d", i)
			if err := stores.Accounts.Update(ctx, account); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
}

func TestDurabilityAcrossCloseAndReopen(t *testing.T) {
	t.Parallel()

	path := testLedgerPath(t)
	passphrase := testPassphrase(t)
	ctx := context.Background()

	eng, err := Open(path, passphrase)
	require.NoError(t, err)
	account := &Account{Name: "durable", Kind: AccountBank, Currency: "EUR"}
	require.NoError(t, eng.Stores().Accounts.Insert(ctx, account))
	require.NoError(t, eng.Close())

	reopened, err := Open(path, passphrase)
	require.NoError(t, err)
	defer closeEngineNoErr(t, reopened)

	got, err := reopened.Stores().Accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "durable", got.Name)
}

func TestWALRecoveryAfterHardStop(t *testing.T) {
	t.Parallel()

	path := testLedgerPath(t)
	passphrase := testPassphrase(t)
	ctx := context.Background()

	eng, err := Open(path, passphrase)
	require.NoError(t, err)
	txnNote := &Account{Name: "wal-survivor", Kind: AccountCash, Currency: "EUR"}
	require.NoError(t, eng.Stores().Accounts.Insert(ctx, txnNote))

	// Drop the connection without the checkpoint Close performs,
	// approximating a process kill right after commit acknowledgment.
	require.NoError(t, eng.db.Close())
	eng.db = nil

	reopened, err := Open(path, passphrase)
	require.NoError(t, err)
	defer closeEngineNoErr(t, reopened)

	got, err := reopened.Stores().Accounts.Get(ctx, txnNote.ID)
	require.NoError(t, err)
	require.Equal(t, "wal-survivor", got.Name)
}

func TestLedgerFilePermissions0600OnUnix(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permissions assertion is unix-specific")
	}

	path := testLedgerPath(t)
	eng, err := Open(path, testPassphrase(t))
	require.NoError(t, err)
	defer closeEngineNoErr(t, eng)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestChecklistItemsCascadeWithTask(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	task := &Task{Title: "close the books"}
	require.NoError(t, stores.Tasks.Insert(ctx, task))

	item := &ChecklistItem{TaskID: task.ID, Label: "reconcile cash", Position: 1}
	require.NoError(t, stores.Checklist.Insert(ctx, item))

	require.NoError(t, stores.Tasks.Delete(ctx, task.ID))
	_, err := stores.Checklist.Get(ctx, item.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuditAppendAndFilter(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	stores := eng.Stores()
	ctx := context.Background()

	require.NoError(t, stores.Audit.Append(ctx, &AuditEvent{Action: "transaction.create", TargetType: "transaction", TargetID: "t1"}))
	require.NoError(t, stores.Audit.Append(ctx, &AuditEvent{Action: "payment.create", TargetType: "partial_payment", TargetID: "p1"}))

	var actions []string
	for event, err := range stores.Audit.Query(ctx, AuditFilter{Action: "payment.create"}) {
		require.NoError(t, err)
		actions = append(actions, event.Action)
	}
	require.Equal(t, []string{"payment.create"}, actions)

	err := stores.Audit.Append(ctx, &AuditEvent{})
	require.Error(t, err)
}

func TestPragmasApplyToEveryPooledConnection(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	conns := make([]*sql.Conn, 0, 4)
	for i := 0; i < 4; i++ {
		conn, err := eng.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	for _, conn := range conns {
		var foreignKeys, busyTimeout int
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&foreignKeys))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&busyTimeout))
		require.Equal(t, 1, foreignKeys)
		require.Equal(t, 5000, busyTimeout)
		require.NoError(t, conn.Close())
	}
}

func TestForeignKeysEnforcedOnFreshConnections(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	// Pin a connection so the insert below has to run on a different
	// one from the pool.
	pinned, err := eng.db.Conn(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, pinned.Close()) }()

	err = eng.Stores().Payments.Insert(ctx, &PartialPayment{
		TransactionID: "no-such-transaction",
		AmountCents:   100,
		PaidAt:        time.Now(),
	})
	require.ErrorIs(t, err, ErrConstraint)
}

func TestWrongPassphraseLeavesSchemaUntouched(t *testing.T) {
	t.Parallel()

	path := testLedgerPath(t)
	good := testPassphrase(t)

	// Build a ledger stuck at schema v1 with a valid key bundle.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, DefaultMigrations()[:1]))
	_, cipher, err := initCipher(db, good)
	require.NoError(t, err)
	cipher.Destroy()
	closeNoErr(t, db)

	_, err = Open(path, testPassphrase(t))
	require.ErrorIs(t, err, ErrWrongPassphrase)

	db, err = sql.Open("sqlite", path)
	require.NoError(t, err)
	require.Equal(t, 1, mustSchemaVersion(t, db))
	closeNoErr(t, db)

	eng, err := Open(path, good)
	require.NoError(t, err)
	version, err := eng.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion(), version)
	closeEngineNoErr(t, eng)
}

func openRawTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", testLedgerPath(t))
	require.NoError(t, err)
	return db
}

func testLedgerPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ledger.db")
}

func testPassphrase(t *testing.T) *memguard.LockedBuffer {
	t.Helper()
	raw := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, raw)
	require.NoError(t, err)
	buf := memguard.NewBufferFromBytes(raw)
	t.Cleanup(buf.Destroy)
	return buf
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(testLedgerPath(t), testPassphrase(t))
	require.NoError(t, err)
	t.Cleanup(func() { closeEngineNoErr(t, eng) })
	return eng
}

func closeEngineNoErr(t *testing.T, eng *Engine) {
	t.Helper()
	require.NoError(t, eng.Close())
}

func closeNoErr(t *testing.T, db *sql.DB) {
	t.Helper()
	require.NoError(t, db.Close())
}

func mustSchemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var version int
	err := db.QueryRow(`SELECT value FROM ledger_meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	return version
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}
