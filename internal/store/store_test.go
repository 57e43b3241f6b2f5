package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudgely/internal/database"
	"nudgely/internal/models"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := database.Initialize(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func seedTeamAndNudge(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("INSERT INTO teams (name, slug) VALUES ('Ops', 'ops')")
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO nudges (team_id, slug, name, frequency, interval, time_of_day, timezone)
		VALUES (1, 'invoice-run', 'Invoice run', 'weekly', 1, '9:00 AM', 'UTC')`)
	require.NoError(t, err)
}

func TestCreateInstanceCollapsesDuplicates(t *testing.T) {
	st, db := newTestStore(t)
	seedTeamAndNudge(t, db)
	ctx := context.Background()

	scheduled := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	first := &models.NudgeInstance{
		NudgeID:        1,
		Slug:           "invoice-run-20260902",
		OccurrenceDate: "2026-09-02",
		ScheduledFor:   scheduled,
		Status:         models.InstancePending,
	}
	created, err := st.CreateInstance(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	// Same nudge and occurrence date: the unique constraint absorbs it.
	dup := &models.NudgeInstance{
		NudgeID:        1,
		Slug:           "invoice-run-20260902-b",
		OccurrenceDate: "2026-09-02",
		ScheduledFor:   scheduled,
		Status:         models.InstancePending,
	}
	created, err = st.CreateInstance(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	// The next occurrence is a fresh row.
	next := &models.NudgeInstance{
		NudgeID:        1,
		Slug:           "invoice-run-20260909",
		OccurrenceDate: "2026-09-09",
		ScheduledFor:   scheduled.AddDate(0, 0, 7),
		Status:         models.InstancePending,
	}
	created, err = st.CreateInstance(ctx, next)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestNudgeFilterClause(t *testing.T) {
	where, args := NudgeFilter{}.clause()
	assert.Equal(t, "1=1", where)
	assert.Empty(t, args)

	where, args = NudgeFilter{TeamID: 7, Status: models.NudgeActive, UserID: 3}.clause()
	assert.Contains(t, where, "n.team_id = ?")
	assert.Contains(t, where, "n.status = ?")
	assert.Contains(t, where, "team_members")
	assert.Equal(t, []any{7, models.NudgeActive, 3}, args)
}

func TestListNudgesRestrictsToMembership(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.Exec("INSERT INTO users (username, password_hash) VALUES ('ana', 'x'), ('ben', 'x')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO teams (name, slug) VALUES ('Ops', 'ops'), ('Sales', 'sales')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO team_members (team_id, user_id, role) VALUES (1, 1, 'admin'), (2, 2, 'admin')")
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO nudges (team_id, slug, name, frequency, interval, time_of_day, timezone, status) VALUES
		(1, 'ops-digest', 'Ops digest', 'daily', 1, '9:00 AM', 'UTC', 'active'),
		(2, 'sales-digest', 'Sales digest', 'daily', 1, '9:00 AM', 'UTC', 'paused')`)
	require.NoError(t, err)

	nudges, err := st.ListNudges(ctx, NudgeFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, nudges, 1)
	assert.Equal(t, "ops-digest", nudges[0].Slug)

	nudges, err = st.ListNudges(ctx, NudgeFilter{Status: models.NudgePaused})
	require.NoError(t, err)
	require.Len(t, nudges, 1)
	assert.Equal(t, "sales-digest", nudges[0].Slug)

	nudges, err = st.ListNudges(ctx, NudgeFilter{TeamID: 2, Status: models.NudgeActive})
	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func TestMarkInstancesSentRequiresAllRemindersDispatched(t *testing.T) {
	st, db := newTestStore(t)
	seedTeamAndNudge(t, db)
	ctx := context.Background()

	inst := &models.NudgeInstance{
		NudgeID:        1,
		Slug:           "invoice-run-20260902",
		OccurrenceDate: "2026-09-02",
		ScheduledFor:   time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC),
		Status:         models.InstancePending,
	}
	created, err := st.CreateInstance(ctx, inst)
	require.NoError(t, err)
	require.True(t, created)

	expires := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	err = st.CreateReminderEvents(ctx, []models.ReminderEvent{
		{InstanceID: inst.ID, RecipientName: "Ana", RecipientEmail: "ana@example.com", Token: "t1", ExpiresAt: expires},
		{InstanceID: inst.ID, RecipientName: "Ben", RecipientEmail: "ben@example.com", Token: "t2", ExpiresAt: expires},
	})
	require.NoError(t, err)

	now := time.Date(2026, 9, 2, 9, 1, 0, 0, time.UTC)

	reminders, err := st.PendingReminders(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reminders, 2)

	// One of two dispatched: the instance stays pending.
	require.NoError(t, st.RecordDispatch(ctx, reminders[0].ID, true, now))
	promoted, err := st.MarkInstancesSent(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	require.NoError(t, st.RecordDispatch(ctx, reminders[1].ID, true, now))
	promoted, err = st.MarkInstancesSent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	var status string
	require.NoError(t, db.QueryRow(
		"SELECT status FROM nudge_instances WHERE id = ?", inst.ID).Scan(&status))
	assert.Equal(t, models.InstanceSent, status)

	// Past every reminder's expiry the instance expires.
	expired, err := st.ExpireInstances(ctx, expires.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestIsTeamMember(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.Exec("INSERT INTO users (username, password_hash) VALUES ('ana', 'x')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO teams (name, slug) VALUES ('Ops', 'ops')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO team_members (team_id, user_id, role) VALUES (1, 1, 'admin')")
	require.NoError(t, err)

	role, ok, err := st.IsTeamMember(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.RoleAdmin, role)

	_, ok, err = st.IsTeamMember(ctx, 1, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}
