package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mull/api/internal/quiet"
	"mull/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	reminders []store.Reminder
	failIDs   map[string]bool
	listErr   error
	markCalls map[string]int

	// When set, ListDueReminders signals listStarted then blocks until
	// listRelease is closed. Used to hold a run open.
	listStarted chan struct{}
	listRelease chan struct{}
}

func newFakeStore(reminders ...store.Reminder) *fakeStore {
	return &fakeStore{
		reminders: reminders,
		failIDs:   map[string]bool{},
		markCalls: map[string]int{},
	}
}

func (f *fakeStore) ListDueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error) {
	if f.listStarted != nil {
		f.listStarted <- struct{}{}
		<-f.listRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	due := make([]store.Reminder, 0)
	for _, r := range f.reminders {
		if r.Status == store.ReminderStatusPending && !r.RemindAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (f *fakeStore) MarkReminderSent(ctx context.Context, reminderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls[reminderID]++
	if f.failIDs[reminderID] {
		return errors.New("store write failed")
	}
	for i := range f.reminders {
		if f.reminders[i].ID == reminderID {
			f.reminders[i].Status = store.ReminderStatusSent
			return nil
		}
	}
	return store.ErrReminderNotFound
}

func (f *fakeStore) status(reminderID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reminders {
		if r.ID == reminderID {
			return r.Status
		}
	}
	return ""
}

func pendingReminder(id, userID string, remindAt time.Time) store.Reminder {
	return store.Reminder{
		ID:         id,
		DecisionID: "decision-" + id,
		UserID:     userID,
		RemindAt:   remindAt,
		Status:     store.ReminderStatusPending,
	}
}

type fakeSettings struct {
	settings quiet.Settings
	err      error
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (quiet.Settings, error) {
	return f.settings, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) ReminderSent(ctx context.Context, reminder store.Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, reminder.ID)
	return n.err
}

func TestRunOnceMarksOnlyDueReminders(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(
		pendingReminder("r1", "u1", now.Add(-2*time.Hour)),
		pendingReminder("r2", "u1", now.Add(-time.Minute)),
		pendingReminder("r3", "u2", now.Add(-24*time.Hour)),
		pendingReminder("future", "u2", now.Add(time.Hour)),
	)
	j := New(st, Options{Now: func() time.Time { return now }})

	j.RunOnce(context.Background())

	for _, id := range []string{"r1", "r2", "r3"} {
		if got := st.status(id); got != store.ReminderStatusSent {
			t.Errorf("reminder %s status = %q, want sent", id, got)
		}
	}
	if got := st.status("future"); got != store.ReminderStatusPending {
		t.Errorf("future reminder status = %q, want pending", got)
	}

	stats := j.Stats()
	if stats.Total != 3 || stats.Processed != 3 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want total=3 processed=3 errors=0", stats)
	}
}

func TestRunOnceNoDueReminders(t *testing.T) {
	now := time.Now().UTC()
	st := newFakeStore(pendingReminder("future", "u1", now.Add(time.Hour)))
	j := New(st, Options{})

	j.RunOnce(context.Background())

	stats := j.Stats()
	if stats.Total != 0 || stats.Processed != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want all zero", stats)
	}
}

func TestRunOnceIsolatesPerItemFailures(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(
		pendingReminder("ok1", "u1", now.Add(-time.Hour)),
		pendingReminder("bad", "u1", now.Add(-time.Hour)),
		pendingReminder("ok2", "u2", now.Add(-time.Hour)),
	)
	st.failIDs["bad"] = true
	j := New(st, Options{Now: func() time.Time { return now }})

	j.RunOnce(context.Background())

	stats := j.Stats()
	if stats.Processed != 2 {
		t.Errorf("processed = %d, want 2", stats.Processed)
	}
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if got := st.status("bad"); got != store.ReminderStatusPending {
		t.Errorf("failed reminder status = %q, want pending for retry", got)
	}
	if st.status("ok1") != store.ReminderStatusSent || st.status("ok2") != store.ReminderStatusSent {
		t.Error("reminders after the failed one were not attempted")
	}
}

func TestRunOnceReadFailureAbortsRun(t *testing.T) {
	st := newFakeStore(pendingReminder("r1", "u1", time.Now().Add(-time.Hour)))
	st.listErr = errors.New("connection refused")
	j := New(st, Options{})

	j.RunOnce(context.Background())

	stats := j.Stats()
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if len(st.markCalls) != 0 {
		t.Errorf("mark was called %d times after a read failure", len(st.markCalls))
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(pendingReminder("r1", "u1", now.Add(-time.Hour)))
	st.listStarted = make(chan struct{}, 1)
	st.listRelease = make(chan struct{})
	j := New(st, Options{Now: func() time.Time { return now }})

	done := make(chan struct{})
	go func() {
		j.RunOnce(context.Background())
		close(done)
	}()
	<-st.listStarted // first run is now inside the store query

	// A tick firing mid-run must return without scanning.
	j.RunOnce(context.Background())

	close(st.listRelease)
	<-done

	st.mu.Lock()
	calls := st.markCalls["r1"]
	st.mu.Unlock()
	if calls != 1 {
		t.Errorf("mark called %d times for r1 across overlapping runs, want 1", calls)
	}
	if stats := j.Stats(); stats.Processed != 1 {
		t.Errorf("processed = %d, want 1", stats.Processed)
	}
}

func TestStartRunsImmediatelyAndIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(pendingReminder("r1", "u1", now.Add(-time.Hour)))
	st.listStarted = make(chan struct{}, 2)
	st.listRelease = make(chan struct{})
	close(st.listRelease) // don't block, just observe list calls
	j := New(st, Options{Now: func() time.Time { return now }})
	defer j.Stop()

	j.Start(time.Hour)
	select {
	case <-st.listStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not trigger an immediate run")
	}

	// Second Start must not spawn another loop or immediate run.
	j.Start(time.Hour)
	select {
	case <-st.listStarted:
		t.Fatal("second Start triggered another run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.listStarted = make(chan struct{}, 16)
	st.listRelease = make(chan struct{})
	close(st.listRelease)
	j := New(st, Options{Now: func() time.Time { return now }})

	j.Start(10 * time.Millisecond)
	<-st.listStarted // immediate run
	<-st.listStarted // at least one tick
	j.Stop()

	// Drain anything in flight, then expect silence.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case <-st.listStarted:
			continue
		default:
		}
		break
	}
	select {
	case <-st.listStarted:
		t.Error("run observed after Stop")
	case <-time.After(100 * time.Millisecond):
	}

	// Stopping twice is safe.
	j.Stop()
}

func TestQuietHoursDeferralWhenConfigured(t *testing.T) {
	// 23:00 UTC inside a 22:00-08:00 window.
	now := time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
	st := newFakeStore(pendingReminder("r1", "u1", now.Add(-30*time.Minute)))
	src := &fakeSettings{settings: quiet.Settings{
		Enabled: true,
		Start:   quiet.Clock{Hour: 22},
		End:     quiet.Clock{Hour: 8},
	}}
	j := New(st, Options{
		RespectQuietHours: true,
		Settings:          src,
		Now:               func() time.Time { return now },
	})

	j.RunOnce(context.Background())

	if got := st.status("r1"); got != store.ReminderStatusPending {
		t.Errorf("deferred reminder status = %q, want pending", got)
	}
	stats := j.Stats()
	if stats.Total != 1 || stats.Processed != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want total=1 processed=0 errors=0", stats)
	}

	// Outside the window the same reminder goes through.
	now = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	j2 := New(st, Options{
		RespectQuietHours: true,
		Settings:          src,
		Now:               func() time.Time { return now },
	})
	j2.RunOnce(context.Background())
	if got := st.status("r1"); got != store.ReminderStatusSent {
		t.Errorf("reminder status after quiet hours = %q, want sent", got)
	}
}

func TestQuietHoursLookupFailureFallsOpen(t *testing.T) {
	now := time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
	st := newFakeStore(pendingReminder("r1", "u1", now.Add(-time.Hour)))
	src := &fakeSettings{err: errors.New("settings unavailable")}
	j := New(st, Options{
		RespectQuietHours: true,
		Settings:          src,
		Now:               func() time.Time { return now },
	})

	j.RunOnce(context.Background())

	if got := st.status("r1"); got != store.ReminderStatusSent {
		t.Errorf("reminder status = %q, want sent when settings lookup fails", got)
	}
}

func TestNotifierReceivesSentReminders(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(
		pendingReminder("r1", "u1", now.Add(-time.Hour)),
		pendingReminder("bad", "u1", now.Add(-time.Hour)),
	)
	st.failIDs["bad"] = true
	notifier := &recordingNotifier{}
	j := New(st, Options{Notifier: notifier, Now: func() time.Time { return now }})

	j.RunOnce(context.Background())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.sent) != 1 || notifier.sent[0] != "r1" {
		t.Errorf("notifier received %v, want [r1]", notifier.sent)
	}
}

func TestNotifierFailureDoesNotCountAsError(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := newFakeStore(pendingReminder("r1", "u1", now.Add(-time.Hour)))
	notifier := &recordingNotifier{err: errors.New("broker down")}
	j := New(st, Options{Notifier: notifier, Now: func() time.Time { return now }})

	j.RunOnce(context.Background())

	stats := j.Stats()
	if stats.Processed != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want processed=1 errors=0", stats)
	}
}
