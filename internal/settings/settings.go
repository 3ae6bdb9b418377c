// Package settings resolves per-user quiet-hours configuration for the
// read path and (optionally) the delivery job.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mull/api/internal/quiet"
	"mull/api/internal/store"
)

// Defaults applied when a user has never saved settings: quiet hours on,
// 22:00-08:00, UTC.
const (
	DefaultQuietStart = "22:00"
	DefaultQuietEnd   = "08:00"
	DefaultTimezone   = "UTC"
)

// Source resolves a user's parsed quiet-hours settings.
type Source interface {
	Get(ctx context.Context, userID string) (quiet.Settings, error)
}

// SettingsStore is the slice of the data store this package reads from.
type SettingsStore interface {
	GetReminderSettings(ctx context.Context, userID string) (store.ReminderSettings, error)
}

// StoreSource reads settings rows and parses them into quiet.Settings.
type StoreSource struct {
	store SettingsStore
}

func NewStoreSource(st SettingsStore) *StoreSource {
	return &StoreSource{store: st}
}

func (s *StoreSource) Get(ctx context.Context, userID string) (quiet.Settings, error) {
	row, err := s.store.GetReminderSettings(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return quiet.Settings{}, fmt.Errorf("load reminder settings: %w", err)
	}
	return Parse(row)
}

// Defaults returns the settings used for users with no saved row.
func Defaults() quiet.Settings {
	return quiet.Settings{
		Enabled:  true,
		Start:    quiet.Clock{Hour: 22, Minute: 0},
		End:      quiet.Clock{Hour: 8, Minute: 0},
		Timezone: DefaultTimezone,
	}
}

// Parse validates a raw settings row. Malformed clock strings surface
// quiet.ErrInvalidSettings to the caller.
func Parse(row store.ReminderSettings) (quiet.Settings, error) {
	startStr := row.QuietHoursStart
	if startStr == "" {
		startStr = DefaultQuietStart
	}
	endStr := row.QuietHoursEnd
	if endStr == "" {
		endStr = DefaultQuietEnd
	}

	start, err := quiet.ParseClock(startStr)
	if err != nil {
		return quiet.Settings{}, err
	}
	end, err := quiet.ParseClock(endStr)
	if err != nil {
		return quiet.Settings{}, err
	}

	tz := row.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}

	return quiet.Settings{
		Enabled:  row.QuietEnabled,
		Start:    start,
		End:      end,
		Timezone: tz,
	}, nil
}
