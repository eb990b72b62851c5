package cli

import (
	"io"
	"iter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bursadev/bursa/internal/storage"
)

// exportDump is the JSON shape written by `bursa export`. Encrypted
// fields (counterparty notes, transaction notes) are deliberately left
// out; the export is metadata only.
type exportDump struct {
	LedgerID      string              `json:"ledger_id"`
	SchemaVersion int                 `json:"schema_version"`
	ExportedAt    time.Time           `json:"exported_at"`
	Accounts      []exportAccount     `json:"accounts"`
	Categories    []exportCategory    `json:"categories"`
	Transactions  []exportTransaction `json:"transactions"`
	Payments      []exportPayment     `json:"payments"`
	Reminders     []exportReminder    `json:"reminders"`
}

type exportAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Currency string `json:"currency"`
}

type exportCategory struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type exportTransaction struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	CategoryID     *string   `json:"category_id,omitempty"`
	CounterpartyID *string   `json:"counterparty_id,omitempty"`
	AmountCents    int64     `json:"amount_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type exportPayment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	PaidAt        time.Time `json:"paid_at"`
}

type exportReminder struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	DueAt         time.Time `json:"due_at"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Done          bool      `json:"done"`
}

func newExportCommand(out io.Writer, globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump non-sensitive ledger metadata as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("export does not accept positional arguments")
			}

			rt, err := openRuntime(globals)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx := cmd.Context()
			version, err := rt.engine.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			stores := rt.engine.Stores()
			dump := exportDump{
				LedgerID:      rt.engine.LedgerID(),
				SchemaVersion: version,
				ExportedAt:    time.Now().UTC(),
			}

			if err := collect(stores.Accounts.Query(ctx), func(a storage.Account) {
				dump.Accounts = append(dump.Accounts, exportAccount{
					ID: a.ID, Name: a.Name, Kind: string(a.Kind), Currency: a.Currency,
				})
			}); err != nil {
				return err
			}
			if err := collect(stores.Categories.Query(ctx), func(c storage.Category) {
				dump.Categories = append(dump.Categories, exportCategory{
					ID: c.ID, Name: c.Name, ParentID: c.ParentID,
				})
			}); err != nil {
				return err
			}
			if err := collect(stores.Transactions.Query(ctx, storage.TransactionFilter{}), func(t storage.Transaction) {
				dump.Transactions = append(dump.Transactions, exportTransaction{
					ID:             t.ID,
					AccountID:      t.AccountID,
					CategoryID:     t.CategoryID,
					CounterpartyID: t.CounterpartyID,
					AmountCents:    t.AmountCents,
					OccurredAt:     t.OccurredAt,
				})
			}); err != nil {
				return err
			}
			for _, txn := range dump.Transactions {
				if err := collect(stores.Payments.QueryByTransaction(ctx, txn.ID), func(p storage.PartialPayment) {
					dump.Payments = append(dump.Payments, exportPayment{
						ID:            p.ID,
						TransactionID: p.TransactionID,
						AmountCents:   p.AmountCents,
						PaidAt:        p.PaidAt,
					})
				}); err != nil {
					return err
				}
			}
			if err := collect(stores.Reminders.Query(ctx, storage.ReminderFilter{IncludeDone: true}), func(r storage.Reminder) {
				dump.Reminders = append(dump.Reminders, exportReminder{
					ID:            r.ID,
					Title:         r.Title,
					DueAt:         r.DueAt,
					TransactionID: r.TransactionID,
					Done:          r.Done,
				})
			}); err != nil {
				return err
			}

			return printJSON(out, dump)
		},
	}
}

func collect[T any](seq iter.Seq2[T, error], visit func(T)) error {
	for item, err := range seq {
		if err != nil {
			return err
		}
		visit(item)
	}
	return nil
}
