package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mull/api/internal/job"
	"mull/api/internal/quiet"
	"mull/api/internal/settings"
	"mull/api/internal/store"
)

// Store is the persistence surface the service layer depends on.
type Store interface {
	Ping(ctx context.Context) error
	ListPendingReminders(ctx context.Context, userID string, now time.Time) ([]store.Reminder, error)
	ListRemindersByDecision(ctx context.Context, userID, decisionID string) ([]store.Reminder, error)
	CreateReminder(ctx context.Context, userID, decisionID string, remindAt time.Time) (store.Reminder, error)
	DeleteReminder(ctx context.Context, userID, decisionID, reminderID string) error
	RescheduleReminder(ctx context.Context, userID, decisionID, reminderID string, remindAt *time.Time, status *string) (store.Reminder, error)
	GetReminderSettings(ctx context.Context, userID string) (store.ReminderSettings, error)
	UpsertReminderSettings(ctx context.Context, row store.ReminderSettings) error
}

// StatsProvider exposes delivery job counters to the stats endpoint.
type StatsProvider interface {
	Stats() job.Stats
}

// CacheInvalidator drops cached settings after an update. Nil when no cache
// is configured.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type Service struct {
	store       Store
	settingsSrc settings.Source
	cache       CacheInvalidator
	jobStats    StatsProvider
	logger      *zap.Logger
	now         func() time.Time
}

type ServiceOptions struct {
	SettingsSource settings.Source
	Cache          CacheInvalidator
	JobStats       StatsProvider
	Logger         *zap.Logger
	Now            func() time.Time
}

func NewService(st Store, opts ServiceOptions) *Service {
	settingsSrc := opts.SettingsSource
	if settingsSrc == nil {
		settingsSrc = settings.NewStoreSource(st)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       st,
		settingsSrc: settingsSrc,
		cache:       opts.Cache,
		jobStats:    opts.JobStats,
		logger:      logger,
		now:         now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PendingReview is one due-but-unreviewed reminder, shaped like the
// pending-reviews API response.
type PendingReview struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	RemindAt   time.Time `json:"remind_at"`
	Status     string    `json:"status"`
}

// PendingReviews returns the user's due, still-pending reminders that are
// not currently hidden by quiet hours.
func (s *Service) PendingReviews(ctx context.Context, userID string) ([]PendingReview, error) {
	userSettings, err := s.settingsSrc.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, quiet.ErrInvalidSettings) {
			return nil, domainError(http.StatusUnprocessableEntity, "INVALID_SETTINGS", err.Error(), nil)
		}
		return nil, fmt.Errorf("resolve settings: %w", err)
	}

	now := s.now().UTC()
	reminders, err := s.store.ListPendingReminders(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	reviews := make([]PendingReview, 0, len(reminders))
	for _, reminder := range reminders {
		if quiet.ShouldSuppress(reminder.RemindAt, now, userSettings) {
			continue
		}
		reviews = append(reviews, PendingReview{
			ID:         reminder.ID,
			DecisionID: reminder.DecisionID,
			RemindAt:   reminder.RemindAt,
			Status:     reminder.Status,
		})
	}
	return reviews, nil
}

func (s *Service) ListReminders(ctx context.Context, userID, decisionID string) ([]store.Reminder, error) {
	return s.store.ListRemindersByDecision(ctx, userID, decisionID)
}

func (s *Service) CreateReminder(ctx context.Context, userID, decisionID string, remindAt time.Time) (store.Reminder, error) {
	if remindAt.IsZero() {
		return store.Reminder{}, domainError(http.StatusBadRequest, "INVALID_REMIND_AT", "remind_at is required", nil)
	}
	reminder, err := s.store.CreateReminder(ctx, userID, decisionID, remindAt.UTC())
	if err != nil {
		return store.Reminder{}, err
	}
	s.logger.Info("reminder created",
		zap.String("reminder_id", reminder.ID),
		zap.String("decision_id", decisionID),
		zap.Time("remind_at", reminder.RemindAt))
	return reminder, nil
}

func (s *Service) DeleteReminder(ctx context.Context, userID, decisionID, reminderID string) error {
	err := s.store.DeleteReminder(ctx, userID, decisionID, reminderID)
	if errors.Is(err, store.ErrReminderNotFound) {
		return domainError(http.StatusNotFound, "REMINDER_NOT_FOUND", "Reminder not found", nil)
	}
	return err
}

// UpdateReminder reschedules a reminder and/or updates its status. Only the
// pending and sent statuses exist.
func (s *Service) UpdateReminder(ctx context.Context, userID, decisionID, reminderID string, remindAt *time.Time, status *string) (store.Reminder, error) {
	if remindAt == nil && status == nil {
		return store.Reminder{}, domainError(http.StatusBadRequest, "EMPTY_UPDATE", "nothing to update", nil)
	}
	if status != nil && *status != store.ReminderStatusPending && *status != store.ReminderStatusSent {
		return store.Reminder{}, domainError(http.StatusBadRequest, "INVALID_STATUS",
			fmt.Sprintf("unknown status %q", *status), nil)
	}
	if remindAt != nil {
		utc := remindAt.UTC()
		remindAt = &utc
	}
	reminder, err := s.store.RescheduleReminder(ctx, userID, decisionID, reminderID, remindAt, status)
	if errors.Is(err, store.ErrReminderNotFound) {
		return store.Reminder{}, domainError(http.StatusNotFound, "REMINDER_NOT_FOUND", "Reminder not found", nil)
	}
	if err != nil {
		return store.Reminder{}, err
	}
	return reminder, nil
}

// ReminderSettingsView is the settings API shape, string clocks included,
// matching the stored row rather than the parsed form.
type ReminderSettingsView struct {
	QuietHoursEnabled bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start"`
	QuietHoursEnd     string `json:"quiet_hours_end"`
	Timezone          string `json:"timezone"`
}

func (s *Service) GetReminderSettings(ctx context.Context, userID string) (ReminderSettingsView, error) {
	row, err := s.store.GetReminderSettings(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		parsed := settings.Defaults()
		return ReminderSettingsView{
			QuietHoursEnabled: parsed.Enabled,
			QuietHoursStart:   parsed.Start.String(),
			QuietHoursEnd:     parsed.End.String(),
			Timezone:          parsed.Timezone,
		}, nil
	}
	if err != nil {
		return ReminderSettingsView{}, err
	}
	return ReminderSettingsView{
		QuietHoursEnabled: row.QuietEnabled,
		QuietHoursStart:   row.QuietHoursStart,
		QuietHoursEnd:     row.QuietHoursEnd,
		Timezone:          row.Timezone,
	}, nil
}

func (s *Service) UpdateReminderSettings(ctx context.Context, userID string, view ReminderSettingsView) (ReminderSettingsView, error) {
	row := store.ReminderSettings{
		UserID:          userID,
		QuietEnabled:    view.QuietHoursEnabled,
		QuietHoursStart: view.QuietHoursStart,
		QuietHoursEnd:   view.QuietHoursEnd,
		Timezone:        view.Timezone,
	}
	// Reject malformed rows before they reach storage; the evaluator assumes
	// validated input.
	if _, err := settings.Parse(row); err != nil {
		return ReminderSettingsView{}, domainError(http.StatusBadRequest, "INVALID_SETTINGS", err.Error(), nil)
	}

	if err := s.store.UpsertReminderSettings(ctx, row); err != nil {
		return ReminderSettingsView{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("settings cache invalidation failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	return s.GetReminderSettings(ctx, userID)
}

// JobStats returns the delivery job's lifetime counters. Zero stats when no
// job is wired (tests, read-only deployments).
func (s *Service) JobStats() job.Stats {
	if s.jobStats == nil {
		return job.Stats{}
	}
	return s.jobStats.Stats()
}
