package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrConstraint   = errors.New("storage: constraint violation")
	ErrSchemaTooNew = errors.New("storage: schema version newer than code")

	// ErrOpen covers everything that makes an existing ledger file
	// unusable: wrong passphrase, tampered key bundle, corruption. It is
	// never answered by recreating the file.
	ErrOpen            = errors.New("storage: cannot open ledger")
	ErrWrongPassphrase = fmt.Errorf("%w: passphrase mismatch", ErrOpen)
	ErrMigration       = errors.New("storage: migration failed")
)

type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
	AccountCard AccountKind = "card"
)

type Account struct {
	ID        string
	Name      string
	Kind      AccountKind
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID        string
	Name      string
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Counterparty struct {
	ID        string
	Name      string
	Notes     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction amounts are integer cents; positive is money in, negative
// is money out.
type Transaction struct {
	ID             string
	AccountID      string
	CategoryID     *string
	CounterpartyID *string
	AmountCents    int64
	OccurredAt     time.Time
	Note           []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type PartialPayment struct {
	ID            string
	TransactionID string
	AmountCents   int64
	PaidAt        time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Reminder struct {
	ID            string
	Title         string
	DueAt         time.Time
	TransactionID *string
	Done          bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Task struct {
	ID        string
	Title     string
	Done      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChecklistItem struct {
	ID        string
	TaskID    string
	Label     string
	Done      bool
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditEvent struct {
	ID          string
	Action      string
	TargetType  string
	TargetID    string
	DetailsJSON string
	CreatedAt   time.Time
}

type TransactionFilter struct {
	AccountID  string
	CategoryID string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

type ReminderFilter struct {
	DueBefore   *time.Time
	IncludeDone bool
}

type AuditFilter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}
