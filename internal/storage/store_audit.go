package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/bursadev/bursa/internal/crypto"
)

// AuditStore is append-only; it deliberately does not expose update or
// delete.
type AuditStore struct {
	rs recordStore[AuditEvent]
}

var auditKind = kind[AuditEvent]{
	table: "audit_events",
	insertSQL: `INSERT INTO audit_events(id, action, target_type, target_id, details_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
	selectSQL: `SELECT id, action, target_type, target_id, details_json, created_at FROM audit_events`,
	id:        func(e *AuditEvent) string { return e.ID },
	setID:     func(e *AuditEvent, id string) { e.ID = id },
	touch: func(e *AuditEvent, now time.Time, created bool) {
		if created && e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	},
	insertArgs: func(_ *crypto.LedgerCipher, e *AuditEvent) ([]any, error) {
		details := e.DetailsJSON
		if details == "" {
			details = "{}"
		}
		return []any{e.ID, e.Action, e.TargetType, e.TargetID, details, fmtTime(e.CreatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (AuditEvent, error) {
		var (
			e       AuditEvent
			created string
		)
		if err := sc.Scan(&e.ID, &e.Action, &e.TargetType, &e.TargetID, &e.DetailsJSON, &created); err != nil {
			return AuditEvent{}, err
		}
		var err error
		if e.CreatedAt, err = parseTime(created); err != nil {
			return AuditEvent{}, err
		}
		return e, nil
	},
}

func (s *AuditStore) Append(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("append audit event: event is nil")
	}
	if event.Action == "" {
		return fmt.Errorf("append audit event: action is required")
	}
	return s.rs.Insert(ctx, event)
}

func (s *AuditStore) Query(ctx context.Context, filter AuditFilter) iter.Seq2[AuditEvent, error] {
	where := `1=1`
	args := make([]any, 0, 4)
	if filter.Action != "" {
		where += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		where += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	if filter.Since != nil {
		where += ` AND created_at >= ?`
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		where += ` AND created_at <= ?`
		args = append(args, fmtTime(*filter.Until))
	}
	order := `created_at ASC`
	if filter.Limit > 0 {
		order += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	return s.rs.query(ctx, where, order, args...)
}
