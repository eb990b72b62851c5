// Package ledger is the repository facade: the only surface the rest of
// the application calls. It maps domain intents onto record-store calls,
// grouping multi-step writes into single storage transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/bursadev/bursa/internal/storage"
)

var (
	ErrValidation  = errors.New("ledger: validation failed")
	ErrOverpayment = fmt.Errorf("%w: payment exceeds remaining balance", ErrValidation)
)

type Service struct {
	eng    *storage.Engine
	logger *slog.Logger
}

func New(eng *storage.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{eng: eng, logger: logger}
}

func (s *Service) CreateAccount(ctx context.Context, account *storage.Account) error {
	if account == nil || account.Name == "" {
		return fmt.Errorf("%w: account name is required", ErrValidation)
	}
	if account.Currency == "" {
		return fmt.Errorf("%w: account currency is required", ErrValidation)
	}

	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Accounts.Insert(ctx, account); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "account.create",
			TargetType: "account",
			TargetID:   account.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	s.logger.DebugContext(ctx, "account created", slog.String("account_id", account.ID))
	return nil
}

func (s *Service) Account(ctx context.Context, id string) (storage.Account, error) {
	return s.eng.Stores().Accounts.Get(ctx, id)
}

func (s *Service) Accounts(ctx context.Context) iter.Seq2[storage.Account, error] {
	return s.eng.Stores().Accounts.Query(ctx)
}

func (s *Service) UpdateAccount(ctx context.Context, account *storage.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Accounts.Update(ctx, account); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "account.update",
			TargetType: "account",
			TargetID:   account.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Accounts.Delete(ctx, id); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "account.delete",
			TargetType: "account",
			TargetID:   id,
		})
	})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *Service) CreateCategory(ctx context.Context, category *storage.Category) error {
	if category == nil || category.Name == "" {
		return fmt.Errorf("%w: category name is required", ErrValidation)
	}
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Categories.Insert(ctx, category); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "category.create",
			TargetType: "category",
			TargetID:   category.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (s *Service) Categories(ctx context.Context) iter.Seq2[storage.Category, error] {
	return s.eng.Stores().Categories.Query(ctx)
}

func (s *Service) CreateCounterparty(ctx context.Context, counterparty *storage.Counterparty) error {
	if counterparty == nil || counterparty.Name == "" {
		return fmt.Errorf("%w: counterparty name is required", ErrValidation)
	}
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Counterparties.Insert(ctx, counterparty); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "counterparty.create",
			TargetType: "counterparty",
			TargetID:   counterparty.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("create counterparty: %w", err)
	}
	return nil
}

func (s *Service) Counterparties(ctx context.Context) iter.Seq2[storage.Counterparty, error] {
	return s.eng.Stores().Counterparties.Query(ctx)
}

func (s *Service) AuditTrail(ctx context.Context, filter storage.AuditFilter) iter.Seq2[storage.AuditEvent, error] {
	return s.eng.Stores().Audit.Query(ctx, filter)
}
