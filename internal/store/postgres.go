package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrReminderNotFound is returned when a reminder id does not match a row
// visible to the caller.
var ErrReminderNotFound = errors.New("reminder not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListDueReminders returns every pending reminder whose remind_at is at or
// before now, across all users. Consumed by the delivery job.
func (s *PostgresStore) ListDueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, user_id, remind_at, status, created_at
		FROM reminders
		WHERE status = $1 AND remind_at <= $2
		ORDER BY remind_at ASC
	`, ReminderStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	items := make([]Reminder, 0)
	for rows.Next() {
		var item Reminder
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.UserID, &item.RemindAt, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return items, nil
}

// MarkReminderSent transitions a pending reminder to sent. Marking a row
// that is already sent is a no-op reported as ErrReminderNotFound so the
// caller does not double-count it.
func (s *PostgresStore) MarkReminderSent(ctx context.Context, reminderID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = $1 WHERE id = $2 AND status = $3
	`, ReminderStatusSent, reminderID, ReminderStatusPending)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if affected == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// ListPendingReminders returns a user's due, still-pending reminders for the
// pending-reviews read path, oldest first.
func (s *PostgresStore) ListPendingReminders(ctx context.Context, userID string, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, user_id, remind_at, status, created_at
		FROM reminders
		WHERE user_id = $1 AND status = $2 AND remind_at <= $3
		ORDER BY remind_at ASC
	`, userID, ReminderStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()

	items := make([]Reminder, 0)
	for rows.Next() {
		var item Reminder
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.UserID, &item.RemindAt, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListRemindersByDecision(ctx context.Context, userID, decisionID string) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, user_id, remind_at, status, created_at
		FROM reminders
		WHERE user_id = $1 AND decision_id = $2
		ORDER BY remind_at ASC
	`, userID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list reminders by decision: %w", err)
	}
	defer rows.Close()

	items := make([]Reminder, 0)
	for rows.Next() {
		var item Reminder
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.UserID, &item.RemindAt, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateReminder(ctx context.Context, userID, decisionID string, remindAt time.Time) (Reminder, error) {
	item := Reminder{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		UserID:     userID,
		RemindAt:   remindAt,
		Status:     ReminderStatusPending,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reminders (id, decision_id, user_id, remind_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, item.ID, item.DecisionID, item.UserID, item.RemindAt, item.Status).Scan(&item.CreatedAt)
	if err != nil {
		return Reminder{}, fmt.Errorf("insert reminder: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteReminder(ctx context.Context, userID, decisionID, reminderID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reminders WHERE id = $1 AND decision_id = $2 AND user_id = $3
	`, reminderID, decisionID, userID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if affected == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// RescheduleReminder updates remind_at and/or status on a user's reminder.
// Nil arguments leave the column untouched.
func (s *PostgresStore) RescheduleReminder(ctx context.Context, userID, decisionID, reminderID string, remindAt *time.Time, status *string) (Reminder, error) {
	var item Reminder
	err := s.db.QueryRowContext(ctx, `
		UPDATE reminders
		SET remind_at = COALESCE($1, remind_at),
		    status = COALESCE($2, status)
		WHERE id = $3 AND decision_id = $4 AND user_id = $5
		RETURNING id, decision_id, user_id, remind_at, status, created_at
	`, remindAt, status, reminderID, decisionID, userID).
		Scan(&item.ID, &item.DecisionID, &item.UserID, &item.RemindAt, &item.Status, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrReminderNotFound
	}
	if err != nil {
		return Reminder{}, fmt.Errorf("reschedule reminder: %w", err)
	}
	return item, nil
}

// GetReminderSettings reads a user's quiet-hours row. sql.ErrNoRows is
// returned untouched when the user has never saved settings; the settings
// layer applies defaults in that case.
func (s *PostgresStore) GetReminderSettings(ctx context.Context, userID string) (ReminderSettings, error) {
	var settings ReminderSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, quiet_enabled, quiet_hours_start, quiet_hours_end, timezone, updated_at
		FROM reminder_settings
		WHERE user_id = $1
	`, userID).Scan(&settings.UserID, &settings.QuietEnabled, &settings.QuietHoursStart,
		&settings.QuietHoursEnd, &settings.Timezone, &settings.UpdatedAt)
	if err != nil {
		return ReminderSettings{}, err
	}
	return settings, nil
}

func (s *PostgresStore) UpsertReminderSettings(ctx context.Context, settings ReminderSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_settings (user_id, quiet_enabled, quiet_hours_start, quiet_hours_end, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			quiet_enabled = EXCLUDED.quiet_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()
	`, settings.UserID, settings.QuietEnabled, settings.QuietHoursStart, settings.QuietHoursEnd, settings.Timezone)
	if err != nil {
		return fmt.Errorf("upsert reminder settings: %w", err)
	}
	return nil
}
