package ledger

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/bursadev/bursa/internal/storage"
)

// RecordTransaction persists a transaction and any linked partial
// payments in one storage transaction; either everything lands or
// nothing does.
func (s *Service) RecordTransaction(ctx context.Context, txn *storage.Transaction, payments ...*storage.PartialPayment) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction is required", ErrValidation)
	}
	if txn.AccountID == "" {
		return fmt.Errorf("%w: transaction account is required", ErrValidation)
	}
	if txn.AmountCents == 0 {
		return fmt.Errorf("%w: transaction amount must not be zero", ErrValidation)
	}
	if txn.OccurredAt.IsZero() {
		return fmt.Errorf("%w: transaction date is required", ErrValidation)
	}

	var total int64
	for _, payment := range payments {
		if payment == nil || payment.AmountCents <= 0 {
			return fmt.Errorf("%w: payment amount must be positive", ErrValidation)
		}
		total += payment.AmountCents
	}
	if total > abs(txn.AmountCents) {
		return ErrOverpayment
	}

	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Transactions.Insert(ctx, txn); err != nil {
			return err
		}
		for _, payment := range payments {
			payment.TransactionID = txn.ID
			if err := stores.Payments.Insert(ctx, payment); err != nil {
				return err
			}
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:      "transaction.create",
			TargetType:  "transaction",
			TargetID:    txn.ID,
			DetailsJSON: fmt.Sprintf(`{"payments":%d}`, len(payments)),
		})
	})
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	s.logger.DebugContext(ctx, "transaction recorded",
		slog.String("transaction_id", txn.ID),
		slog.Int("payments", len(payments)),
	)
	return nil
}

// RecordPayment appends a partial payment to an existing transaction,
// rejecting payments that would exceed the remaining balance.
func (s *Service) RecordPayment(ctx context.Context, transactionID string, payment *storage.PartialPayment) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if payment == nil || payment.AmountCents <= 0 {
		return fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}

	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		txn, err := stores.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		paid, err := stores.Payments.SumForTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if paid+payment.AmountCents > abs(txn.AmountCents) {
			return ErrOverpayment
		}

		payment.TransactionID = transactionID
		if err := stores.Payments.Insert(ctx, payment); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "payment.create",
			TargetType: "partial_payment",
			TargetID:   payment.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// RemainingBalance reports the transaction amount not yet covered by
// partial payments.
func (s *Service) RemainingBalance(ctx context.Context, transactionID string) (int64, error) {
	stores := s.eng.Stores()
	txn, err := stores.Transactions.Get(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	paid, err := stores.Payments.SumForTransaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	return abs(txn.AmountCents) - paid, nil
}

func (s *Service) Transaction(ctx context.Context, id string) (storage.Transaction, error) {
	return s.eng.Stores().Transactions.Get(ctx, id)
}

func (s *Service) Transactions(ctx context.Context, filter storage.TransactionFilter) iter.Seq2[storage.Transaction, error] {
	return s.eng.Stores().Transactions.Query(ctx, filter)
}

func (s *Service) Payments(ctx context.Context, transactionID string) iter.Seq2[storage.PartialPayment, error] {
	return s.eng.Stores().Payments.QueryByTransaction(ctx, transactionID)
}

// DeleteTransaction removes a transaction with no recorded payments.
// Payments referencing it surface as a constraint violation.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Transactions.Delete(ctx, id); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "transaction.delete",
			TargetType: "transaction",
			TargetID:   id,
		})
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
