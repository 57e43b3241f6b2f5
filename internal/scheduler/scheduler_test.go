package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudgely/internal/database"
	"nudgely/internal/models"
	"nudgely/internal/notify"
	"nudgely/internal/schedule"
	"nudgely/internal/store"
)

// wednesdayTick is 2026-09-02 09:00 in Australia/Sydney (AEST, UTC+10).
var wednesdayTick = time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, m notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) messages() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message{}, f.sent...)
}

func newTestService(t *testing.T, sender notify.Sender, cfg Config) (*Service, *store.Store, *sql.DB) {
	t.Helper()
	db, err := database.Initialize(":memory:")
	require.NoError(t, err)
	// In-memory sqlite databases are per-connection; pin the pool to the
	// connection that ran the schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	svc := New(st, sender, cfg, zerolog.Nop())
	svc.SetNow(func() time.Time { return wednesdayTick })
	return svc, st, db
}

// seedWeeklyNudge inserts a team plus one active weekly nudge, Wednesday
// 9:00 AM in Sydney, anchored to 2026-08-20 local, with two recipients.
func seedWeeklyNudge(t *testing.T, db *sql.DB, endType string, endAfter any) int {
	t.Helper()
	_, err := db.Exec("INSERT INTO teams (name, slug) VALUES ('Platform', 'platform')")
	require.NoError(t, err)

	anchor := time.Date(2026, 8, 19, 14, 0, 0, 0, time.UTC) // Aug 20 00:00 Sydney
	res, err := db.Exec(
		`INSERT INTO nudges (team_id, slug, name, description, status, frequency, interval,
			time_of_day, timezone, day_of_week, end_type, end_after, created_at)
		VALUES (1, 'standup-notes', 'Standup notes', 'Post yesterday''s notes', 'active',
			'weekly', 1, '9:00 AM', 'Australia/Sydney', 3, ?, ?, ?)`,
		endType, endAfter, anchor)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	for _, r := range [][2]string{{"Ana", "ana@example.com"}, {"Ben", "ben@example.com"}} {
		_, err := db.Exec("INSERT INTO recipients (nudge_id, name, email) VALUES (?, ?, ?)", id, r[0], r[1])
		require.NoError(t, err)
	}
	return int(id)
}

func instanceRow(t *testing.T, db *sql.DB, nudgeID int) (slug, occurrence, status string) {
	t.Helper()
	err := db.QueryRow(
		"SELECT slug, occurrence_date, status FROM nudge_instances WHERE nudge_id = ?", nudgeID).
		Scan(&slug, &occurrence, &status)
	require.NoError(t, err)
	return
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestRunMaterializesAndDispatches(t *testing.T) {
	sender := &fakeSender{}
	svc, _, db := newTestService(t, sender, DefaultConfig())
	nudgeID := seedWeeklyNudge(t, db, "never", nil)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Sent: 2}, sum)

	slug, occurrence, status := instanceRow(t, db, nudgeID)
	assert.Equal(t, "standup-notes-20260902", slug)
	assert.Equal(t, "2026-09-02", occurrence)
	assert.Equal(t, models.InstanceSent, status)

	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM reminder_events WHERE sent = 1 AND attempts = 1"))

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "Standup notes", m.NudgeName)
		assert.True(t, strings.HasPrefix(m.CompleteURL, svc.cfg.AppURL+"/api/complete/"))
	}

	var lastInstanceAt time.Time
	require.NoError(t, db.QueryRow(
		"SELECT last_instance_at FROM nudges WHERE id = ?", nudgeID).Scan(&lastInstanceAt))
	assert.True(t, lastInstanceAt.Equal(wednesdayTick))
}

func TestRunIsIdempotentForTheSameOccurrence(t *testing.T) {
	sender := &fakeSender{}
	svc, _, db := newTestService(t, sender, DefaultConfig())
	nudgeID := seedWeeklyNudge(t, db, "never", nil)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1}, sum)

	assert.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM nudge_instances WHERE nudge_id = ?", nudgeID))
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM reminder_events"))
	assert.Len(t, sender.messages(), 2)
}

func TestRunSkipsWhenNotDue(t *testing.T) {
	sender := &fakeSender{}
	svc, _, db := newTestService(t, sender, DefaultConfig())
	nudgeID := seedWeeklyNudge(t, db, "never", nil)

	// Thursday at the same wall-clock time.
	svc.SetNow(func() time.Time { return wednesdayTick.Add(24 * time.Hour) })

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1}, sum)

	assert.Equal(t, 0, countRows(t, db,
		"SELECT COUNT(*) FROM nudge_instances WHERE nudge_id = ?", nudgeID))
	assert.Empty(t, sender.messages())
}

func TestRunRetriesFailedDispatchOnNextPass(t *testing.T) {
	sender := &fakeSender{}
	sender.fail(errors.New("smtp unreachable"))
	svc, _, db := newTestService(t, sender, DefaultConfig())
	nudgeID := seedWeeklyNudge(t, db, "never", nil)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Errors: 2}, sum)

	_, _, status := instanceRow(t, db, nudgeID)
	assert.Equal(t, models.InstancePending, status)
	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM reminder_events WHERE sent = 0 AND attempts = 1"))

	sender.fail(nil)
	sum, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1, Sent: 2}, sum)

	_, _, status = instanceRow(t, db, nudgeID)
	assert.Equal(t, models.InstanceSent, status)
	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM reminder_events WHERE sent = 1 AND attempts = 2"))
}

func TestRunStopsRetryingAfterAttemptCeiling(t *testing.T) {
	sender := &fakeSender{}
	sender.fail(errors.New("smtp unreachable"))
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	svc, _, db := newTestService(t, sender, cfg)
	seedWeeklyNudge(t, db, "never", nil)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	_, err = svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM reminder_events WHERE sent = 0 AND attempts = 2"))

	// Both reminders are now exhausted: no further sends, only the
	// exhaustion count in the summary.
	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1, Errors: 2}, sum)
	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM reminder_events WHERE attempts = 2"))
}

func TestRunFinishesNudgeAtEndCondition(t *testing.T) {
	sender := &fakeSender{}
	svc, _, db := newTestService(t, sender, DefaultConfig())
	nudgeID := seedWeeklyNudge(t, db, "after_occurrences", 1)

	sum, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Sent: 2}, sum)

	// Next Wednesday: one instance exists, the end condition is met, the
	// nudge transitions to finished without a second materialization.
	svc.SetNow(func() time.Time { return wednesdayTick.Add(7 * 24 * time.Hour) })
	sum, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1}, sum)

	var status string
	require.NoError(t, db.QueryRow("SELECT status FROM nudges WHERE id = ?", nudgeID).Scan(&status))
	assert.Equal(t, models.NudgeFinished, status)
	assert.Equal(t, 1, countRows(t, db,
		"SELECT COUNT(*) FROM nudge_instances WHERE nudge_id = ?", nudgeID))
}

func TestRuleFromNudgeDefaults(t *testing.T) {
	day := 14
	n := models.Nudge{
		Frequency:     "monthly",
		Interval:      2,
		TimeOfDay:     "9:00 AM",
		Timezone:      "UTC",
		MonthlyMode:   "day_of_month",
		DayOfMonth:    &day,
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		InstanceCount: 3,
	}

	r := RuleFromNudge(n)
	assert.Equal(t, schedule.FreqMonthly, r.Frequency)
	assert.Equal(t, 2, r.Interval)
	assert.Equal(t, 14, r.DayOfMonth)
	assert.Equal(t, 3, r.Occurrences)
	// Unset end type falls back to never.
	assert.Equal(t, schedule.EndNever, r.EndType)
	assert.Equal(t, 0, r.DayOfWeek)
}
