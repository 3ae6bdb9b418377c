// Package notify publishes reminder lifecycle events for downstream
// notification channels. Actual push delivery lives outside this service.
package notify

import (
	"context"
	"time"

	"mull/api/internal/store"
)

// Notifier receives an event after a reminder is marked sent. Publishing is
// best effort; the delivery job logs failures and moves on.
type Notifier interface {
	ReminderSent(ctx context.Context, reminder store.Reminder) error
}

// ReminderSentEvent is the wire payload for reminder.sent.
type ReminderSentEvent struct {
	ReminderID string    `json:"reminder_id"`
	DecisionID string    `json:"decision_id"`
	UserID     string    `json:"user_id"`
	RemindAt   time.Time `json:"remind_at"`
	SentAt     time.Time `json:"sent_at"`
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

func (Nop) ReminderSent(ctx context.Context, reminder store.Reminder) error {
	return nil
}
