package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/bursadev/bursa/internal/crypto"
)

// Stores bundles every record store bound to one querier: the shared
// connection for direct calls, or a single transaction inside
// Engine.WithTx.
type Stores struct {
	Accounts       *AccountStore
	Categories     *CategoryStore
	Counterparties *CounterpartyStore
	Transactions   *TransactionStore
	Payments       *PaymentStore
	Reminders      *ReminderStore
	Tasks          *TaskStore
	Checklist      *ChecklistStore
	Audit          *AuditStore
}

func newStores(q querier, lc *crypto.LedgerCipher) Stores {
	return Stores{
		Accounts:       &AccountStore{recordStore[Account]{q: q, lc: lc, k: accountKind}},
		Categories:     &CategoryStore{recordStore[Category]{q: q, lc: lc, k: categoryKind}},
		Counterparties: &CounterpartyStore{recordStore[Counterparty]{q: q, lc: lc, k: counterpartyKind}},
		Transactions:   &TransactionStore{recordStore[Transaction]{q: q, lc: lc, k: transactionKind}},
		Payments:       &PaymentStore{recordStore[PartialPayment]{q: q, lc: lc, k: paymentKind}},
		Reminders:      &ReminderStore{recordStore[Reminder]{q: q, lc: lc, k: reminderKind}},
		Tasks:          &TaskStore{recordStore[Task]{q: q, lc: lc, k: taskKind}},
		Checklist:      &ChecklistStore{recordStore[ChecklistItem]{q: q, lc: lc, k: checklistKind}},
		Audit:          &AuditStore{rs: recordStore[AuditEvent]{q: q, lc: lc, k: auditKind}},
	}
}

type AccountStore struct {
	recordStore[Account]
}

var accountKind = kind[Account]{
	table: "accounts",
	insertSQL: `INSERT INTO accounts(id, name, kind, currency, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE accounts SET name = ?, kind = ?, currency = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, name, kind, currency, created_at, updated_at FROM accounts`,
	id:        func(a *Account) string { return a.ID },
	setID:     func(a *Account, id string) { a.ID = id },
	touch: func(a *Account, now time.Time, created bool) {
		if created {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, a *Account) ([]any, error) {
		return []any{a.ID, a.Name, string(a.Kind), a.Currency, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, a *Account) ([]any, error) {
		return []any{a.Name, string(a.Kind), a.Currency, fmtTime(a.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (Account, error) {
		var (
			a       Account
			kindStr string
			created string
			updated string
		)
		if err := sc.Scan(&a.ID, &a.Name, &kindStr, &a.Currency, &created, &updated); err != nil {
			return Account{}, err
		}
		a.Kind = AccountKind(kindStr)
		var err error
		if a.CreatedAt, err = parseTime(created); err != nil {
			return Account{}, err
		}
		if a.UpdatedAt, err = parseTime(updated); err != nil {
			return Account{}, err
		}
		return a, nil
	},
}

func (s *AccountStore) Query(ctx context.Context) iter.Seq2[Account, error] {
	return s.query(ctx, "", "name ASC")
}

func (s *AccountStore) GetByName(ctx context.Context, name string) (Account, error) {
	rec, err := s.k.scan(s.lc, s.q.QueryRowContext(ctx, s.k.selectSQL+` WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("get account by name: %w", err)
	}
	return rec, nil
}

type CategoryStore struct {
	recordStore[Category]
}

var categoryKind = kind[Category]{
	table: "categories",
	insertSQL: `INSERT INTO categories(id, name, parent_id, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE categories SET name = ?, parent_id = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, name, parent_id, created_at, updated_at FROM categories`,
	id:        func(c *Category) string { return c.ID },
	setID:     func(c *Category, id string) { c.ID = id },
	touch: func(c *Category, now time.Time, created bool) {
		if created {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, c *Category) ([]any, error) {
		return []any{c.ID, c.Name, nullableString(c.ParentID), fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, c *Category) ([]any, error) {
		return []any{c.Name, nullableString(c.ParentID), fmtTime(c.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (Category, error) {
		var (
			c       Category
			parent  sql.NullString
			created string
			updated string
		)
		if err := sc.Scan(&c.ID, &c.Name, &parent, &created, &updated); err != nil {
			return Category{}, err
		}
		c.ParentID = fromNullableString(parent)
		var err error
		if c.CreatedAt, err = parseTime(created); err != nil {
			return Category{}, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return Category{}, err
		}
		return c, nil
	},
}

func (s *CategoryStore) Query(ctx context.Context) iter.Seq2[Category, error] {
	return s.query(ctx, "", "name ASC")
}

type CounterpartyStore struct {
	recordStore[Counterparty]
}

var counterpartyKind = kind[Counterparty]{
	table: "counterparties",
	insertSQL: `INSERT INTO counterparties(id, name, notes_ciphertext, notes_nonce, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE counterparties SET name = ?, notes_ciphertext = ?, notes_nonce = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, name, notes_ciphertext, notes_nonce, created_at, updated_at FROM counterparties`,
	id:        func(c *Counterparty) string { return c.ID },
	setID:     func(c *Counterparty, id string) { c.ID = id },
	touch: func(c *Counterparty, now time.Time, created bool) {
		if created {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	},
	insertArgs: func(lc *crypto.LedgerCipher, c *Counterparty) ([]any, error) {
		ciphertext, nonce, err := sealOptional(lc, "counterparty", c.ID, "notes", c.Notes)
		if err != nil {
			return nil, err
		}
		return []any{c.ID, c.Name, ciphertext, nonce, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt)}, nil
	},
	updateArgs: func(lc *crypto.LedgerCipher, c *Counterparty) ([]any, error) {
		ciphertext, nonce, err := sealOptional(lc, "counterparty", c.ID, "notes", c.Notes)
		if err != nil {
			return nil, err
		}
		return []any{c.Name, ciphertext, nonce, fmtTime(c.UpdatedAt)}, nil
	},
	scan: func(lc *crypto.LedgerCipher, sc row) (Counterparty, error) {
		var (
			c          Counterparty
			ciphertext []byte
			nonce      []byte
			created    string
			updated    string
		)
		if err := sc.Scan(&c.ID, &c.Name, &ciphertext, &nonce, &created, &updated); err != nil {
			return Counterparty{}, err
		}
		var err error
		if c.Notes, err = openOptional(lc, "counterparty", c.ID, "notes", ciphertext, nonce); err != nil {
			return Counterparty{}, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return Counterparty{}, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return Counterparty{}, err
		}
		return c, nil
	},
}

func (s *CounterpartyStore) Query(ctx context.Context) iter.Seq2[Counterparty, error] {
	return s.query(ctx, "", "name ASC")
}

type TransactionStore struct {
	recordStore[Transaction]
}

var transactionKind = kind[Transaction]{
	table: "transactions",
	insertSQL: `INSERT INTO transactions(id, account_id, category_id, counterparty_id, amount_cents, occurred_at, note_ciphertext, note_nonce, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE transactions SET account_id = ?, category_id = ?, counterparty_id = ?, amount_cents = ?, occurred_at = ?, note_ciphertext = ?, note_nonce = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, account_id, category_id, counterparty_id, amount_cents, occurred_at, note_ciphertext, note_nonce, created_at, updated_at FROM transactions`,
	id:        func(t *Transaction) string { return t.ID },
	setID:     func(t *Transaction, id string) { t.ID = id },
	touch: func(t *Transaction, now time.Time, created bool) {
		if created {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
	},
	insertArgs: func(lc *crypto.LedgerCipher, t *Transaction) ([]any, error) {
		ciphertext, nonce, err := sealOptional(lc, "transaction", t.ID, "note", t.Note)
		if err != nil {
			return nil, err
		}
		return []any{
			t.ID, t.AccountID, nullableString(t.CategoryID), nullableString(t.CounterpartyID),
			t.AmountCents, fmtTime(t.OccurredAt), ciphertext, nonce,
			fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		}, nil
	},
	updateArgs: func(lc *crypto.LedgerCipher, t *Transaction) ([]any, error) {
		ciphertext, nonce, err := sealOptional(lc, "transaction", t.ID, "note", t.Note)
		if err != nil {
			return nil, err
		}
		return []any{
			t.AccountID, nullableString(t.CategoryID), nullableString(t.CounterpartyID),
			t.AmountCents, fmtTime(t.OccurredAt), ciphertext, nonce, fmtTime(t.UpdatedAt),
		}, nil
	},
	scan: func(lc *crypto.LedgerCipher, sc row) (Transaction, error) {
		var (
			t            Transaction
			category     sql.NullString
			counterparty sql.NullString
			occurred     string
			ciphertext   []byte
			nonce        []byte
			created      string
			updated      string
		)
		if err := sc.Scan(&t.ID, &t.AccountID, &category, &counterparty, &t.AmountCents, &occurred, &ciphertext, &nonce, &created, &updated); err != nil {
			return Transaction{}, err
		}
		t.CategoryID = fromNullableString(category)
		t.CounterpartyID = fromNullableString(counterparty)
		var err error
		if t.Note, err = openOptional(lc, "transaction", t.ID, "note", ciphertext, nonce); err != nil {
			return Transaction{}, err
		}
		if t.OccurredAt, err = parseTime(occurred); err != nil {
			return Transaction{}, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return Transaction{}, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return Transaction{}, err
		}
		return t, nil
	},
}

func (s *TransactionStore) Query(ctx context.Context, filter TransactionFilter) iter.Seq2[Transaction, error] {
	where := `1=1`
	args := make([]any, 0, 4)
	if filter.AccountID != "" {
		where += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.CategoryID != "" {
		where += ` AND category_id = ?`
		args = append(args, filter.CategoryID)
	}
	if filter.Since != nil {
		where += ` AND occurred_at >= ?`
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		where += ` AND occurred_at <= ?`
		args = append(args, fmtTime(*filter.Until))
	}
	order := `occurred_at ASC`
	if filter.Limit > 0 {
		order += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	return s.query(ctx, where, order, args...)
}

type PaymentStore struct {
	recordStore[PartialPayment]
}

var paymentKind = kind[PartialPayment]{
	table: "partial_payments",
	insertSQL: `INSERT INTO partial_payments(id, transaction_id, amount_cents, paid_at, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE partial_payments SET transaction_id = ?, amount_cents = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, transaction_id, amount_cents, paid_at, created_at, updated_at FROM partial_payments`,
	id:        func(p *PartialPayment) string { return p.ID },
	setID:     func(p *PartialPayment, id string) { p.ID = id },
	touch: func(p *PartialPayment, now time.Time, created bool) {
		if created {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, p *PartialPayment) ([]any, error) {
		return []any{p.ID, p.TransactionID, p.AmountCents, fmtTime(p.PaidAt), fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, p *PartialPayment) ([]any, error) {
		return []any{p.TransactionID, p.AmountCents, fmtTime(p.PaidAt), fmtTime(p.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (PartialPayment, error) {
		var (
			p       PartialPayment
			paid    string
			created string
			updated string
		)
		if err := sc.Scan(&p.ID, &p.TransactionID, &p.AmountCents, &paid, &created, &updated); err != nil {
			return PartialPayment{}, err
		}
		var err error
		if p.PaidAt, err = parseTime(paid); err != nil {
			return PartialPayment{}, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return PartialPayment{}, err
		}
		if p.UpdatedAt, err = parseTime(updated); err != nil {
			return PartialPayment{}, err
		}
		return p, nil
	},
}

func (s *PaymentStore) QueryByTransaction(ctx context.Context, transactionID string) iter.Seq2[PartialPayment, error] {
	return s.query(ctx, `transaction_id = ?`, `paid_at ASC`, transactionID)
}

// SumForTransaction totals the payments recorded against one transaction.
func (s *PaymentStore) SumForTransaction(ctx context.Context, transactionID string) (int64, error) {
	var total int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM partial_payments WHERE transaction_id = ?`,
		transactionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}
