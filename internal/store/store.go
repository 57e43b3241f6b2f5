package store

import (
	"context"
	"database/sql"
	"strings"

	"nudgely/internal/models"
)

// Store is the persistence layer handed to the scheduler, the completion
// service and the API handlers. It owns no connection lifecycle; the caller
// opens and closes the *sql.DB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for surfaces that query directly
// (auth, push subscriptions).
func (s *Store) DB() *sql.DB {
	return s.db
}

// NudgeFilter is a typed criteria value consumed by ListNudges. Building
// the WHERE clause from a value object keeps SQL assembly out of handlers.
type NudgeFilter struct {
	TeamID int
	Status string
	UserID int // restrict to teams the user belongs to
}

func (f NudgeFilter) clause() (string, []any) {
	conds := []string{"1=1"}
	args := []any{}
	if f.TeamID > 0 {
		conds = append(conds, "n.team_id = ?")
		args = append(args, f.TeamID)
	}
	if f.Status != "" {
		conds = append(conds, "n.status = ?")
		args = append(args, f.Status)
	}
	if f.UserID > 0 {
		conds = append(conds, "n.team_id IN (SELECT team_id FROM team_members WHERE user_id = ?)")
		args = append(args, f.UserID)
	}
	return strings.Join(conds, " AND "), args
}

const nudgeColumns = `n.id, n.team_id, n.slug, n.name, COALESCE(n.description, ''), n.status,
	n.frequency, n.interval, n.time_of_day, n.timezone,
	n.day_of_week, COALESCE(n.monthly_mode, ''), n.day_of_month, n.nth_week, n.nth_weekday,
	n.end_type, n.end_date, n.end_after, n.last_instance_at, n.created_at, n.updated_at`

func scanNudge(row interface{ Scan(...any) error }) (models.Nudge, error) {
	var n models.Nudge
	err := row.Scan(
		&n.ID, &n.TeamID, &n.Slug, &n.Name, &n.Description, &n.Status,
		&n.Frequency, &n.Interval, &n.TimeOfDay, &n.Timezone,
		&n.DayOfWeek, &n.MonthlyMode, &n.DayOfMonth, &n.NthWeek, &n.NthWeekday,
		&n.EndType, &n.EndDate, &n.EndAfter, &n.LastInstanceAt, &n.CreatedAt, &n.UpdatedAt,
	)
	return n, err
}

// ListNudges returns nudges matching the filter, without recipients.
func (s *Store) ListNudges(ctx context.Context, f NudgeFilter) ([]models.Nudge, error) {
	where, args := f.clause()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nudgeColumns+" FROM nudges n WHERE "+where+" ORDER BY n.created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nudges := []models.Nudge{}
	for rows.Next() {
		n, err := scanNudge(rows)
		if err != nil {
			return nil, err
		}
		nudges = append(nudges, n)
	}
	return nudges, rows.Err()
}

// GetNudge returns a single nudge with its recipients.
func (s *Store) GetNudge(ctx context.Context, id int) (*models.Nudge, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+nudgeColumns+" FROM nudges n WHERE n.id = ?", id)
	n, err := scanNudge(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadRecipients(ctx, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ActiveNudges returns every active nudge with recipients and the count of
// instances materialized so far (for after_occurrences end conditions).
// This is the occurrence scanner's read.
func (s *Store) ActiveNudges(ctx context.Context) ([]models.Nudge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nudgeColumns+`,
			(SELECT COUNT(*) FROM nudge_instances i WHERE i.nudge_id = n.id)
		FROM nudges n WHERE n.status = ?`, models.NudgeActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nudges := []models.Nudge{}
	for rows.Next() {
		var n models.Nudge
		err := rows.Scan(
			&n.ID, &n.TeamID, &n.Slug, &n.Name, &n.Description, &n.Status,
			&n.Frequency, &n.Interval, &n.TimeOfDay, &n.Timezone,
			&n.DayOfWeek, &n.MonthlyMode, &n.DayOfMonth, &n.NthWeek, &n.NthWeekday,
			&n.EndType, &n.EndDate, &n.EndAfter, &n.LastInstanceAt, &n.CreatedAt, &n.UpdatedAt,
			&n.InstanceCount,
		)
		if err != nil {
			return nil, err
		}
		nudges = append(nudges, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range nudges {
		if err := s.loadRecipients(ctx, &nudges[i]); err != nil {
			return nil, err
		}
	}
	return nudges, nil
}

func (s *Store) loadRecipients(ctx context.Context, n *models.Nudge) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, nudge_id, name, email FROM recipients WHERE nudge_id = ? ORDER BY id", n.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	n.Recipients = []models.Recipient{}
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ID, &r.NudgeID, &r.Name, &r.Email); err != nil {
			return err
		}
		n.Recipients = append(n.Recipients, r)
	}
	return rows.Err()
}

// SetNudgeStatus moves a nudge between lifecycle states.
func (s *Store) SetNudgeStatus(ctx context.Context, id int, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nudges SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	return err
}

// IsTeamMember reports membership and role for a user in a team.
func (s *Store) IsTeamMember(ctx context.Context, teamID, userID int) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM team_members WHERE team_id = ? AND user_id = ?", teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}
