package storage

import (
	"context"
	"database/sql"
	"iter"
	"time"

	"github.com/bursadev/bursa/internal/crypto"
)

type ReminderStore struct {
	recordStore[Reminder]
}

var reminderKind = kind[Reminder]{
	table: "reminders",
	insertSQL: `INSERT INTO reminders(id, title, due_at, transaction_id, done, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE reminders SET title = ?, due_at = ?, transaction_id = ?, done = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, title, due_at, transaction_id, done, created_at, updated_at FROM reminders`,
	id:        func(r *Reminder) string { return r.ID },
	setID:     func(r *Reminder, id string) { r.ID = id },
	touch: func(r *Reminder, now time.Time, created bool) {
		if created {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, r *Reminder) ([]any, error) {
		return []any{r.ID, r.Title, fmtTime(r.DueAt), nullableString(r.TransactionID), boolToInt(r.Done), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, r *Reminder) ([]any, error) {
		return []any{r.Title, fmtTime(r.DueAt), nullableString(r.TransactionID), boolToInt(r.Done), fmtTime(r.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (Reminder, error) {
		var (
			r           Reminder
			due         string
			transaction sql.NullString
			done        int
			created     string
			updated     string
		)
		if err := sc.Scan(&r.ID, &r.Title, &due, &transaction, &done, &created, &updated); err != nil {
			return Reminder{}, err
		}
		r.TransactionID = fromNullableString(transaction)
		r.Done = done != 0
		var err error
		if r.DueAt, err = parseTime(due); err != nil {
			return Reminder{}, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return Reminder{}, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return Reminder{}, err
		}
		return r, nil
	},
}

func (s *ReminderStore) Query(ctx context.Context, filter ReminderFilter) iter.Seq2[Reminder, error] {
	where := `1=1`
	args := make([]any, 0, 2)
	if !filter.IncludeDone {
		where += ` AND done = 0`
	}
	if filter.DueBefore != nil {
		where += ` AND due_at <= ?`
		args = append(args, fmtTime(*filter.DueBefore))
	}
	return s.query(ctx, where, `due_at ASC`, args...)
}

type TaskStore struct {
	recordStore[Task]
}

var taskKind = kind[Task]{
	table: "tasks",
	insertSQL: `INSERT INTO tasks(id, title, done, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE tasks SET title = ?, done = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, title, done, created_at, updated_at FROM tasks`,
	id:        func(t *Task) string { return t.ID },
	setID:     func(t *Task, id string) { t.ID = id },
	touch: func(t *Task, now time.Time, created bool) {
		if created {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, t *Task) ([]any, error) {
		return []any{t.ID, t.Title, boolToInt(t.Done), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, t *Task) ([]any, error) {
		return []any{t.Title, boolToInt(t.Done), fmtTime(t.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (Task, error) {
		var (
			t       Task
			done    int
			created string
			updated string
		)
		if err := sc.Scan(&t.ID, &t.Title, &done, &created, &updated); err != nil {
			return Task{}, err
		}
		t.Done = done != 0
		var err error
		if t.CreatedAt, err = parseTime(created); err != nil {
			return Task{}, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return Task{}, err
		}
		return t, nil
	},
}

func (s *TaskStore) Query(ctx context.Context) iter.Seq2[Task, error] {
	return s.query(ctx, "", `created_at ASC`)
}

type ChecklistStore struct {
	recordStore[ChecklistItem]
}

var checklistKind = kind[ChecklistItem]{
	table: "checklist_items",
	insertSQL: `INSERT INTO checklist_items(id, task_id, label, done, position, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
	updateSQL: `UPDATE checklist_items SET task_id = ?, label = ?, done = ?, position = ?, updated_at = ? WHERE id = ?`,
	selectSQL: `SELECT id, task_id, label, done, position, created_at, updated_at FROM checklist_items`,
	id:        func(c *ChecklistItem) string { return c.ID },
	setID:     func(c *ChecklistItem, id string) { c.ID = id },
	touch: func(c *ChecklistItem, now time.Time, created bool) {
		if created {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
	},
	insertArgs: func(_ *crypto.LedgerCipher, c *ChecklistItem) ([]any, error) {
		return []any{c.ID, c.TaskID, c.Label, boolToInt(c.Done), c.Position, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt)}, nil
	},
	updateArgs: func(_ *crypto.LedgerCipher, c *ChecklistItem) ([]any, error) {
		return []any{c.TaskID, c.Label, boolToInt(c.Done), c.Position, fmtTime(c.UpdatedAt)}, nil
	},
	scan: func(_ *crypto.LedgerCipher, sc row) (ChecklistItem, error) {
		var (
			c       ChecklistItem
			done    int
			created string
			updated string
		)
		if err := sc.Scan(&c.ID, &c.TaskID, &c.Label, &done, &c.Position, &created, &updated); err != nil {
			return ChecklistItem{}, err
		}
		c.Done = done != 0
		var err error
		if c.CreatedAt, err = parseTime(created); err != nil {
			return ChecklistItem{}, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return ChecklistItem{}, err
		}
		return c, nil
	},
}

func (s *ChecklistStore) QueryByTask(ctx context.Context, taskID string) iter.Seq2[ChecklistItem, error] {
	return s.query(ctx, `task_id = ?`, `position ASC`, taskID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
