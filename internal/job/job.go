// Package job runs the background loop that transitions due reminders from
// pending to sent.
package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mull/api/internal/metrics"
	"mull/api/internal/notify"
	"mull/api/internal/quiet"
	"mull/api/internal/store"
)

// Store is the slice of the reminder store the delivery job needs.
type Store interface {
	ListDueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
	MarkReminderSent(ctx context.Context, reminderID string) error
}

// SettingsSource resolves a user's quiet-hours settings. Only consulted when
// the job is configured to respect quiet hours.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (quiet.Settings, error)
}

// Stats are lifetime counters for the job. They are never reset except by
// process restart.
type Stats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
}

// Options configures optional collaborators. The zero value gives a job that
// only marks reminders sent.
type Options struct {
	Logger   *zap.Logger
	Notifier notify.Notifier

	// RespectQuietHours defers due reminders whose owner is currently inside
	// their quiet-hours window; they stay pending and are retried on a later
	// tick. Requires Settings.
	RespectQuietHours bool
	Settings          SettingsSource

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Job polls for due pending reminders on a fixed interval and marks each
// sent. A single instance allows at most one run at a time; a tick that
// fires mid-run is skipped. The guard is process-local only, so replicas can
// race on the same due set - harmless because marking sent is idempotent.
type Job struct {
	store    Store
	logger   *zap.Logger
	notifier notify.Notifier
	settings SettingsSource
	respect  bool
	now      func() time.Time

	running atomic.Bool

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}

	total     atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
}

func New(st Store, opts Options) *Job {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Job{
		store:    st,
		logger:   logger,
		notifier: notifier,
		settings: opts.Settings,
		respect:  opts.RespectQuietHours && opts.Settings != nil,
		now:      now,
	}
}

// Start performs one run immediately, then schedules recurring runs every
// interval. Calling Start on a started job is a no-op.
func (j *Job) Start(interval time.Duration) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		j.logger.Info("reminder job already running")
		return
	}
	j.started = true
	j.stopChan = make(chan struct{})
	stop := j.stopChan
	j.mu.Unlock()

	j.logger.Info("reminder job starting", zap.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		j.RunOnce(context.Background())

		for {
			select {
			case <-ticker.C:
				j.RunOnce(context.Background())
			case <-stop:
				j.logger.Info("reminder job stopped", zap.Int64("total", j.total.Load()),
					zap.Int64("processed", j.processed.Load()), zap.Int64("errors", j.errors.Load()))
				return
			}
		}
	}()
}

// Stop cancels future ticks. An in-flight run completes naturally.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	j.started = false
	close(j.stopChan)
}

// Stats returns a snapshot of the lifetime counters.
func (j *Job) Stats() Stats {
	return Stats{
		Total:     j.total.Load(),
		Processed: j.processed.Load(),
		Errors:    j.errors.Load(),
	}
}

// RunOnce performs a single scan of the due-reminder set. If a previous run
// is still in progress the call returns immediately without scanning.
func (j *Job) RunOnce(ctx context.Context) {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Info("previous reminder run still in progress, skipping")
		metrics.ReminderJobRuns.WithLabelValues("skipped").Inc()
		return
	}
	defer j.running.Store(false)

	started := j.now()
	now := started.UTC()

	due, err := j.store.ListDueReminders(ctx, now)
	if err != nil {
		j.logger.Error("fetch due reminders failed", zap.Error(err))
		j.errors.Add(1)
		metrics.RecordJobRun("error", time.Since(started))
		return
	}

	if len(due) == 0 {
		metrics.RecordJobRun("ok", time.Since(started))
		return
	}

	j.logger.Info("found due reminders", zap.Int("count", len(due)))
	j.total.Add(int64(len(due)))

	for _, reminder := range due {
		if j.respect && j.inQuietHours(ctx, reminder.UserID, now) {
			j.logger.Info("reminder deferred for quiet hours",
				zap.String("reminder_id", reminder.ID), zap.String("user_id", reminder.UserID))
			metrics.IncrementReminderProcessed("deferred")
			continue
		}

		if err := j.store.MarkReminderSent(ctx, reminder.ID); err != nil {
			// Bulkhead: one failed update never aborts the batch. The row
			// stays pending and is retried on the next tick.
			if errors.Is(err, store.ErrReminderNotFound) {
				j.logger.Info("reminder no longer pending, skipping",
					zap.String("reminder_id", reminder.ID))
				continue
			}
			j.logger.Error("mark reminder sent failed",
				zap.String("reminder_id", reminder.ID), zap.Error(err))
			j.errors.Add(1)
			metrics.IncrementReminderProcessed("error")
			continue
		}

		j.processed.Add(1)
		metrics.IncrementReminderProcessed("sent")
		j.logger.Info("reminder marked sent",
			zap.String("reminder_id", reminder.ID), zap.String("decision_id", reminder.DecisionID))

		if err := j.notifier.ReminderSent(ctx, reminder); err != nil {
			j.logger.Warn("reminder.sent publish failed",
				zap.String("reminder_id", reminder.ID), zap.Error(err))
		}
	}

	duration := time.Since(started)
	metrics.RecordJobRun("ok", duration)
	j.logger.Info("reminder run complete",
		zap.Int("checked", len(due)), zap.Duration("duration", duration))
}

// inQuietHours reports whether a user is currently inside their quiet-hours
// window. Settings lookup failures fall open: the reminder is delivered
// rather than silently stuck.
func (j *Job) inQuietHours(ctx context.Context, userID string, now time.Time) bool {
	settings, err := j.settings.Get(ctx, userID)
	if err != nil {
		j.logger.Warn("quiet hours lookup failed, delivering anyway",
			zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return quiet.IsWithin(quiet.ClockOf(now.In(settings.Location())), settings)
}
