package ledger

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/bursadev/bursa/internal/storage"
)

// CreateTask persists a task together with its checklist items in one
// storage transaction.
func (s *Service) CreateTask(ctx context.Context, task *storage.Task, items ...*storage.ChecklistItem) error {
	if task == nil || task.Title == "" {
		return fmt.Errorf("%w: task title is required", ErrValidation)
	}
	for _, item := range items {
		if item == nil || item.Label == "" {
			return fmt.Errorf("%w: checklist item label is required", ErrValidation)
		}
	}

	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Tasks.Insert(ctx, task); err != nil {
			return err
		}
		for i, item := range items {
			item.TaskID = task.ID
			if item.Position == 0 {
				item.Position = i + 1
			}
			if err := stores.Checklist.Insert(ctx, item); err != nil {
				return err
			}
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "task.create",
			TargetType: "task",
			TargetID:   task.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Service) Tasks(ctx context.Context) iter.Seq2[storage.Task, error] {
	return s.eng.Stores().Tasks.Query(ctx)
}

func (s *Service) Checklist(ctx context.Context, taskID string) iter.Seq2[storage.ChecklistItem, error] {
	return s.eng.Stores().Checklist.QueryByTask(ctx, taskID)
}

func (s *Service) CompleteTask(ctx context.Context, taskID string) error {
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		task, err := stores.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		task.Done = true
		if err := stores.Tasks.Update(ctx, &task); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "task.complete",
			TargetType: "task",
			TargetID:   taskID,
		})
	})
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

func (s *Service) CreateReminder(ctx context.Context, reminder *storage.Reminder) error {
	if reminder == nil || reminder.Title == "" {
		return fmt.Errorf("%w: reminder title is required", ErrValidation)
	}
	if reminder.DueAt.IsZero() {
		return fmt.Errorf("%w: reminder due date is required", ErrValidation)
	}
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		if err := stores.Reminders.Insert(ctx, reminder); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "reminder.create",
			TargetType: "reminder",
			TargetID:   reminder.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// DueReminders lists open reminders due at or before the given time.
func (s *Service) DueReminders(ctx context.Context, at time.Time) iter.Seq2[storage.Reminder, error] {
	return s.eng.Stores().Reminders.Query(ctx, storage.ReminderFilter{DueBefore: &at})
}

func (s *Service) MarkReminderDone(ctx context.Context, reminderID string) error {
	err := s.eng.WithTx(ctx, func(stores storage.Stores) error {
		reminder, err := stores.Reminders.Get(ctx, reminderID)
		if err != nil {
			return err
		}
		reminder.Done = true
		if err := stores.Reminders.Update(ctx, &reminder); err != nil {
			return err
		}
		return stores.Audit.Append(ctx, &storage.AuditEvent{
			Action:     "reminder.done",
			TargetType: "reminder",
			TargetID:   reminderID,
		})
	})
	if err != nil {
		return fmt.Errorf("mark reminder done: %w", err)
	}
	return nil
}
