package store

import (
	"context"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"nudgely/internal/models"
)

// CreateInstance inserts a materialized occurrence. When another pass has
// already materialized the same nudge+occurrence (unique constraint), it
// reports created=false with no error: duplicate materialization is a
// no-op by design, not a failure.
func (s *Store) CreateInstance(ctx context.Context, inst *models.NudgeInstance) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nudge_instances (nudge_id, slug, occurrence_date, scheduled_for, status)
		VALUES (?, ?, ?, ?, ?)`,
		inst.NudgeID, inst.Slug, inst.OccurrenceDate, inst.ScheduledFor.UTC(), inst.Status,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return false, nil
		}
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	inst.ID = int(id)
	return true, nil
}

// CreateReminderEvents bulk-inserts one reminder per recipient for a fresh
// instance, inside a single transaction.
func (s *Store) CreateReminderEvents(ctx context.Context, events []models.ReminderEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reminder_events (instance_id, recipient_name, recipient_email, token, expires_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.InstanceID, ev.RecipientName, ev.RecipientEmail, ev.Token, ev.ExpiresAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetNudgeLastInstance records when the nudge last materialized an instance.
func (s *Store) SetNudgeLastInstance(ctx context.Context, nudgeID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nudges SET last_instance_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		at.UTC(), nudgeID)
	return err
}

// PendingReminder carries a reminder together with the nudge context the
// dispatcher needs to render the notification.
type PendingReminder struct {
	models.ReminderEvent
	NudgeID          int
	NudgeName        string
	NudgeDescription string
}

// PendingReminders returns unsent reminders on live instances that still
// have dispatch attempts left.
func (s *Store) PendingReminders(ctx context.Context, maxAttempts int) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.instance_id, r.recipient_name, r.recipient_email, r.token,
			r.expires_at, r.sent, r.attempts, r.last_attempt_at, r.created_at,
			n.id, n.name, COALESCE(n.description, '')
		FROM reminder_events r
		JOIN nudge_instances i ON i.id = r.instance_id
		JOIN nudges n ON n.id = i.nudge_id
		WHERE r.sent = 0 AND r.attempts < ? AND i.status IN (?, ?)
		ORDER BY r.id`,
		maxAttempts, models.InstancePending, models.InstanceSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := []PendingReminder{}
	for rows.Next() {
		var pr PendingReminder
		err := rows.Scan(
			&pr.ID, &pr.InstanceID, &pr.RecipientName, &pr.RecipientEmail, &pr.Token,
			&pr.ExpiresAt, &pr.Sent, &pr.Attempts, &pr.LastAttemptAt, &pr.CreatedAt,
			&pr.NudgeID, &pr.NudgeName, &pr.NudgeDescription,
		)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, pr)
	}
	return reminders, rows.Err()
}

// RecordDispatch tracks one delivery attempt's outcome.
func (s *Store) RecordDispatch(ctx context.Context, reminderID int, sent bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reminder_events SET sent = ?, attempts = attempts + 1, last_attempt_at = ? WHERE id = ?",
		sent, at.UTC(), reminderID)
	return err
}

// ExhaustedReminderCount counts reminders that hit the attempt ceiling
// without a successful send; surfaced in the pass summary for operators.
func (s *Store) ExhaustedReminderCount(ctx context.Context, maxAttempts int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_events r
		JOIN nudge_instances i ON i.id = r.instance_id
		WHERE r.sent = 0 AND r.attempts >= ? AND i.status IN (?, ?)`,
		maxAttempts, models.InstancePending, models.InstanceSent).Scan(&n)
	return n, err
}

// MarkInstancesSent promotes pending instances whose reminders have all
// been dispatched. Returns how many were promoted.
func (s *Store) MarkInstancesSent(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nudge_instances SET status = ?
		WHERE status = ?
		AND EXISTS (SELECT 1 FROM reminder_events r WHERE r.instance_id = nudge_instances.id)
		AND NOT EXISTS (SELECT 1 FROM reminder_events r WHERE r.instance_id = nudge_instances.id AND r.sent = 0)`,
		models.InstanceSent, models.InstancePending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ExpireInstances marks unacknowledged instances whose reminders have all
// passed their expiry.
func (s *Store) ExpireInstances(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nudge_instances SET status = ?
		WHERE status IN (?, ?)
		AND EXISTS (SELECT 1 FROM reminder_events r WHERE r.instance_id = nudge_instances.id)
		AND NOT EXISTS (SELECT 1 FROM reminder_events r WHERE r.instance_id = nudge_instances.id AND r.expires_at > ?)`,
		models.InstanceExpired, models.InstancePending, models.InstanceSent, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// TokenReminder is the completion handler's view of a reminder: the
// reminder row plus its instance's state.
type TokenReminder struct {
	ReminderID     int
	InstanceID     int
	NudgeID        int
	NudgeName      string
	RecipientEmail string
	ExpiresAt      time.Time
	InstanceStatus string
	CompletedAt    *time.Time
}

// ReminderByToken resolves a completion token. sql.ErrNoRows passes
// through when the token is unknown.
func (s *Store) ReminderByToken(ctx context.Context, token string) (*TokenReminder, error) {
	var tr TokenReminder
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, i.id, n.id, n.name, r.recipient_email, r.expires_at, i.status, i.completed_at
		FROM reminder_events r
		JOIN nudge_instances i ON i.id = r.instance_id
		JOIN nudges n ON n.id = i.nudge_id
		WHERE r.token = ?`, token).Scan(
		&tr.ReminderID, &tr.InstanceID, &tr.NudgeID, &tr.NudgeName,
		&tr.RecipientEmail, &tr.ExpiresAt, &tr.InstanceStatus, &tr.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// CompleteInstance transitions an instance to completed, guarded so a
// concurrent or repeated call observes created=false instead of
// overwriting the first completion.
func (s *Store) CompleteInstance(ctx context.Context, instanceID int, actor string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nudge_instances SET status = ?, completed_at = ?, completed_by = ?
		WHERE id = ? AND status != ?`,
		models.InstanceCompleted, at.UTC(), actor, instanceID, models.InstanceCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireInstance marks a single unacknowledged instance expired.
func (s *Store) ExpireInstance(ctx context.Context, instanceID int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nudge_instances SET status = ? WHERE id = ? AND status IN (?, ?)",
		models.InstanceExpired, instanceID, models.InstancePending, models.InstanceSent)
	return err
}

// RecentInstances returns the latest instances for a nudge, newest first.
func (s *Store) RecentInstances(ctx context.Context, nudgeID, limit int) ([]models.NudgeInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nudge_id, slug, occurrence_date, scheduled_for, status, completed_at, COALESCE(completed_by, ''), created_at
		FROM nudge_instances WHERE nudge_id = ? ORDER BY occurrence_date DESC LIMIT ?`,
		nudgeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := []models.NudgeInstance{}
	for rows.Next() {
		var inst models.NudgeInstance
		err := rows.Scan(&inst.ID, &inst.NudgeID, &inst.Slug, &inst.OccurrenceDate,
			&inst.ScheduledFor, &inst.Status, &inst.CompletedAt, &inst.CompletedBy, &inst.CreatedAt)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
