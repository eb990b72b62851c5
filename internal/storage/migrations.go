package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	schemaVersionMetaKey = "schema_version"
	ledgerIDMetaKey      = "ledger_id"
	wrappedKeyMetaKey    = "wrapped_lmk_bundle"
)

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create ledger core tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL,
					currency TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					parent_id TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(parent_id) REFERENCES categories(id)
				)`,
				`CREATE TABLE IF NOT EXISTS counterparties (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					notes_ciphertext BLOB,
					notes_nonce BLOB,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					category_id TEXT,
					counterparty_id TEXT,
					amount_cents INTEGER NOT NULL,
					occurred_at TEXT NOT NULL,
					note_ciphertext BLOB,
					note_nonce BLOB,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(account_id) REFERENCES accounts(id),
					FOREIGN KEY(category_id) REFERENCES categories(id),
					FOREIGN KEY(counterparty_id) REFERENCES counterparties(id)
				)`,
				`CREATE TABLE IF NOT EXISTS partial_payments (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					amount_cents INTEGER NOT NULL,
					paid_at TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(transaction_id) REFERENCES transactions(id) ON DELETE RESTRICT
				)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "add reminders, tasks and checklist items",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS reminders (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					due_at TEXT NOT NULL,
					transaction_id TEXT,
					done INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					done INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS checklist_items (
					id TEXT PRIMARY KEY,
					task_id TEXT NOT NULL,
					label TEXT NOT NULL,
					done INTEGER NOT NULL DEFAULT 0,
					position INTEGER NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE
				)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v2 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "add audit events and query indexes",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS audit_events (
					id TEXT PRIMARY KEY,
					action TEXT NOT NULL,
					target_type TEXT,
					target_id TEXT,
					details_json TEXT NOT NULL DEFAULT '{}',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_account_occurred
					ON transactions(account_id, occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_partial_payments_transaction
					ON partial_payments(transaction_id)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_action_created
					ON audit_events(action, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_reminders_due
					ON reminders(due_at)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v3 statement: %w", err)
				}
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

// RunMigrations applies pending steps in version order, each inside its
// own transaction. There is no destructive fallback: a failing step
// surfaces as ErrMigration and leaves the schema at the last good version.
func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("%w: db is nil", ErrMigration)
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin v%d: %v", ErrMigration, migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: v%d (%s): %v", ErrMigration, migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, migration.Version, nowUTCString()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: record v%d: %v", ErrMigration, migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO ledger_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: update schema version v%d: %v", ErrMigration, migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit v%d: %v", ErrMigration, migration.Version, err)
		}
	}

	return nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO ledger_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: ensure migration tables: %v", ErrMigration, err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM ledger_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("%w: read schema version: %v", ErrMigration, err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("%w: parse schema version %q: %v", ErrMigration, versionStr, err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
