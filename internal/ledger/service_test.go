package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bursadev/bursa/internal/storage"
	"github.com/bursadev/bursa/internal/storage/storagetest"
)

func TestRecordTransactionWithPaymentsAndRemainingBalance(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	txn := &storage.Transaction{
		AccountID:   account.ID,
		AmountCents: 10000,
		OccurredAt:  time.Now().UTC(),
	}
	payment := &storage.PartialPayment{AmountCents: 4000, PaidAt: time.Now().UTC()}
	require.NoError(t, svc.RecordTransaction(ctx, txn, payment))

	remaining, err := svc.RemainingBalance(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6000), remaining)
}

func TestDeleteTransactionWithPaymentsFailsWithConstraint(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	txn := &storage.Transaction{AccountID: account.ID, AmountCents: 10000, OccurredAt: time.Now().UTC()}
	require.NoError(t, svc.RecordTransaction(ctx, txn,
		&storage.PartialPayment{AmountCents: 4000, PaidAt: time.Now().UTC()}))

	err := svc.DeleteTransaction(ctx, txn.ID)
	require.ErrorIs(t, err, storage.ErrConstraint)

	// The transaction is still intact afterwards.
	got, err := svc.Transaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), got.AmountCents)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	txn := &storage.Transaction{AccountID: account.ID, AmountCents: 5000, OccurredAt: time.Now().UTC()}
	require.NoError(t, svc.RecordTransaction(ctx, txn))

	require.NoError(t, svc.RecordPayment(ctx, txn.ID,
		&storage.PartialPayment{AmountCents: 3000, PaidAt: time.Now().UTC()}))

	err := svc.RecordPayment(ctx, txn.ID,
		&storage.PartialPayment{AmountCents: 3000, PaidAt: time.Now().UTC()})
	require.ErrorIs(t, err, ErrOverpayment)

	remaining, err := svc.RemainingBalance(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), remaining)
}

func TestRecordPaymentAgainstMissingTransaction(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.RecordPayment(ctx, "missing",
		&storage.PartialPayment{AmountCents: 100, PaidAt: time.Now().UTC()})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordTransactionIsAtomic(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	// The second payment is invalid at the store level (negative is
	// caught up front, so force a constraint by duplicating the id).
	first := &storage.PartialPayment{ID: "p-dup", AmountCents: 100, PaidAt: time.Now().UTC()}
	second := &storage.PartialPayment{ID: "p-dup", AmountCents: 200, PaidAt: time.Now().UTC()}

	txn := &storage.Transaction{AccountID: account.ID, AmountCents: 10000, OccurredAt: time.Now().UTC()}
	err := svc.RecordTransaction(ctx, txn, first, second)
	require.ErrorIs(t, err, storage.ErrConstraint)

	// Nothing from the failed operation is visible.
	_, err = svc.Transaction(ctx, txn.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	count := 0
	for _, err := range svc.Payments(ctx, txn.ID) {
		require.NoError(t, err)
		count++
	}
	require.Zero(t, count)
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.CreateAccount(ctx, &storage.Account{Name: ""}), ErrValidation)
	require.ErrorIs(t, svc.RecordTransaction(ctx, nil), ErrValidation)
	require.ErrorIs(t, svc.RecordTransaction(ctx,
		&storage.Transaction{AccountID: account.ID, AmountCents: 0, OccurredAt: time.Now().UTC()}), ErrValidation)
	require.ErrorIs(t, svc.RecordTransaction(ctx,
		&storage.Transaction{AccountID: account.ID, AmountCents: 100, OccurredAt: time.Now().UTC()},
		&storage.PartialPayment{AmountCents: 200, PaidAt: time.Now().UTC()}), ErrOverpayment)
	require.ErrorIs(t, svc.CreateTask(ctx, &storage.Task{Title: ""}), ErrValidation)
	require.ErrorIs(t, svc.CreateReminder(ctx, &storage.Reminder{Title: "x"}), ErrValidation)
}

func TestMutationsLeaveAuditTrail(t *testing.T) {
	t.Parallel()

	svc, account := newTestService(t)
	ctx := context.Background()

	txn := &storage.Transaction{AccountID: account.ID, AmountCents: 10000, OccurredAt: time.Now().UTC()}
	require.NoError(t, svc.RecordTransaction(ctx, txn))
	require.NoError(t, svc.RecordPayment(ctx, txn.ID,
		&storage.PartialPayment{AmountCents: 500, PaidAt: time.Now().UTC()}))

	var actions []string
	for event, err := range svc.AuditTrail(ctx, storage.AuditFilter{}) {
		require.NoError(t, err)
		actions = append(actions, event.Action)
	}
	require.Contains(t, actions, "account.create")
	require.Contains(t, actions, "transaction.create")
	require.Contains(t, actions, "payment.create")
}

func TestTaskWithChecklistLifecycle(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	task := &storage.Task{Title: "month-end close"}
	require.NoError(t, svc.CreateTask(ctx, task,
		&storage.ChecklistItem{Label: "reconcile accounts"},
		&storage.ChecklistItem{Label: "file receipts"},
	))

	var labels []string
	for item, err := range svc.Checklist(ctx, task.ID) {
		require.NoError(t, err)
		labels = append(labels, item.Label)
	}
	require.Equal(t, []string{"reconcile accounts", "file receipts"}, labels)

	require.NoError(t, svc.CompleteTask(ctx, task.ID))
	for got, err := range svc.Tasks(ctx) {
		require.NoError(t, err)
		require.True(t, got.Done)
	}
}

func TestRemindersDueFilter(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	early := &storage.Reminder{Title: "pay rent", DueAt: now.Add(-time.Hour)}
	late := &storage.Reminder{Title: "renew insurance", DueAt: now.Add(24 * time.Hour)}
	require.NoError(t, svc.CreateReminder(ctx, early))
	require.NoError(t, svc.CreateReminder(ctx, late))

	var due []string
	for reminder, err := range svc.DueReminders(ctx, now) {
		require.NoError(t, err)
		due = append(due, reminder.Title)
	}
	require.Equal(t, []string{"pay rent"}, due)

	require.NoError(t, svc.MarkReminderDone(ctx, early.ID))
	due = due[:0]
	for reminder, err := range svc.DueReminders(ctx, now) {
		require.NoError(t, err)
		due = append(due, reminder.Title)
	}
	require.Empty(t, due)
}

func newTestService(t *testing.T) (*Service, storage.Account) {
	t.Helper()
	eng := storagetest.OpenScratch(t)
	svc := New(eng, nil)

	account := &storage.Account{Name: "main", Kind: storage.AccountBank, Currency: "EUR"}
	require.NoError(t, svc.CreateAccount(context.Background(), account))
	return svc, *account
}
