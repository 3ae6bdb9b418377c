package store

import "time"

// Reminder statuses. A reminder is created pending and transitions exactly
// once to sent, only by the delivery job.
const (
	ReminderStatusPending = "pending"
	ReminderStatusSent    = "sent"
)

// Reminder is a scheduled follow-up prompt tied to a decision.
type Reminder struct {
	ID         string
	DecisionID string
	UserID     string
	RemindAt   time.Time
	Status     string
	CreatedAt  time.Time
}

// ReminderSettings is the raw per-user quiet-hours row. Clock columns are
// stored as "HH:MM" strings and parsed by the settings layer.
type ReminderSettings struct {
	UserID          string
	QuietEnabled    bool
	QuietHoursStart string
	QuietHoursEnd   string
	Timezone        string
	UpdatedAt       time.Time
}
