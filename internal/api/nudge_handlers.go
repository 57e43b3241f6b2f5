package api

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"nudgely/internal/models"
	"nudgely/internal/schedule"
	"nudgely/internal/scheduler"
	"nudgely/internal/store"
)

// validateNudge enforces the frequency selector invariant (exactly one
// selector group populated, matching the frequency), checks the clock and
// timezone parse, clamps day-of-month to 1..28 and verifies end condition
// consistency. Mutates the nudge in place (clamping, defaults).
func validateNudge(n *models.Nudge) error {
	if n.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Name is required")
	}
	if n.Interval < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "Interval must be at least 1")
	}
	if _, _, err := schedule.ParseClock(n.TimeOfDay); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Time of day must look like \"9:00 AM\"")
	}
	if _, err := time.LoadLocation(n.Timezone); err != nil || n.Timezone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Unknown timezone")
	}

	switch n.Frequency {
	case "daily":
		if n.DayOfWeek != nil || n.MonthlyMode != "" {
			return fiber.NewError(fiber.StatusBadRequest, "Daily nudges take no weekday or monthly selector")
		}
	case "weekly":
		if n.DayOfWeek == nil || *n.DayOfWeek < 0 || *n.DayOfWeek > 6 {
			return fiber.NewError(fiber.StatusBadRequest, "Weekly nudges need day_of_week 0-6")
		}
		if n.MonthlyMode != "" {
			return fiber.NewError(fiber.StatusBadRequest, "Weekly nudges take no monthly selector")
		}
	case "monthly":
		if n.DayOfWeek != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Monthly nudges take no day_of_week")
		}
		switch n.MonthlyMode {
		case string(schedule.MonthlyOnDay):
			if n.DayOfMonth == nil || *n.DayOfMonth < 1 {
				return fiber.NewError(fiber.StatusBadRequest, "Monthly nudges need day_of_month")
			}
			if *n.DayOfMonth > 28 {
				// Clamp so February always has the configured day.
				clamped := 28
				n.DayOfMonth = &clamped
			}
			if n.NthWeek != nil || n.NthWeekday != nil {
				return fiber.NewError(fiber.StatusBadRequest, "day_of_month mode takes no nth selector")
			}
		case string(schedule.MonthlyOnNthWeekday):
			if n.NthWeek == nil || *n.NthWeek < 1 || *n.NthWeek > 5 {
				return fiber.NewError(fiber.StatusBadRequest, "nth_weekday mode needs nth_week 1-5")
			}
			if n.NthWeekday == nil || *n.NthWeekday < 0 || *n.NthWeekday > 6 {
				return fiber.NewError(fiber.StatusBadRequest, "nth_weekday mode needs nth_weekday 0-6")
			}
			if n.DayOfMonth != nil {
				return fiber.NewError(fiber.StatusBadRequest, "nth_weekday mode takes no day_of_month")
			}
		default:
			return fiber.NewError(fiber.StatusBadRequest, "Monthly nudges need monthly_mode day_of_month or nth_weekday")
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "Frequency must be daily, weekly or monthly")
	}

	if n.EndType == "" {
		n.EndType = string(schedule.EndNever)
	}
	switch n.EndType {
	case string(schedule.EndNever):
		if n.EndDate != nil || n.EndAfter != nil {
			return fiber.NewError(fiber.StatusBadRequest, "end_type never takes no end_date or end_after")
		}
	case string(schedule.EndOnDate):
		if n.EndDate == nil || n.EndAfter != nil {
			return fiber.NewError(fiber.StatusBadRequest, "end_type on_date needs end_date only")
		}
	case string(schedule.EndAfter):
		if n.EndAfter == nil || *n.EndAfter < 1 || n.EndDate != nil {
			return fiber.NewError(fiber.StatusBadRequest, "end_type after_occurrences needs end_after only")
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "Invalid end_type")
	}

	for _, r := range n.Recipients {
		if r.Email == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Recipient email is required")
		}
	}
	return nil
}

// requireTeamAdmin resolves the team role for the current user.
func requireTeamAdmin(c *fiber.Ctx, st *store.Store, teamID int) error {
	userID := c.Locals("userID").(int)
	role, member, err := st.IsTeamMember(c.Context(), teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fiber.NewError(fiber.StatusForbidden, "Not a member of this team")
	}
	if role != models.RoleAdmin {
		return fiber.NewError(fiber.StatusForbidden, "Team admin access required")
	}
	return nil
}

func requireTeamMember(c *fiber.Ctx, st *store.Store, teamID int) error {
	userID := c.Locals("userID").(int)
	_, member, err := st.IsTeamMember(c.Context(), teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fiber.NewError(fiber.StatusForbidden, "Not a member of this team")
	}
	return nil
}

func CreateNudgeHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.CreateNudgeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.TeamID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "team_id is required")
		}
		if err := requireTeamAdmin(c, st, req.TeamID); err != nil {
			return err
		}

		n := models.Nudge{
			TeamID:      req.TeamID,
			Name:        req.Name,
			Description: req.Description,
			Frequency:   req.Frequency,
			Interval:    req.Interval,
			TimeOfDay:   req.TimeOfDay,
			Timezone:    req.Timezone,
			DayOfWeek:   req.DayOfWeek,
			MonthlyMode: req.MonthlyMode,
			DayOfMonth:  req.DayOfMonth,
			NthWeek:     req.NthWeek,
			NthWeekday:  req.NthWeekday,
			EndType:     req.EndType,
			EndDate:     req.EndDate,
			EndAfter:    req.EndAfter,
		}
		for _, r := range req.Recipients {
			n.Recipients = append(n.Recipients, models.Recipient{Name: r.Name, Email: r.Email})
		}
		if err := validateNudge(&n); err != nil {
			return err
		}

		db := st.DB()
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		slug := slugify(n.Name)
		result, err := tx.Exec(
			`INSERT INTO nudges (team_id, slug, name, description, status, frequency, interval,
				time_of_day, timezone, day_of_week, monthly_mode, day_of_month, nth_week, nth_weekday,
				end_type, end_date, end_after)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.TeamID, slug, n.Name, n.Description, models.NudgeActive, n.Frequency, n.Interval,
			n.TimeOfDay, n.Timezone, n.DayOfWeek, nullIfEmpty(n.MonthlyMode), n.DayOfMonth, n.NthWeek, n.NthWeekday,
			n.EndType, n.EndDate, n.EndAfter,
		)
		if err != nil {
			return err
		}
		nudgeID, _ := result.LastInsertId()

		for _, r := range n.Recipients {
			if _, err := tx.Exec(
				"INSERT INTO recipients (nudge_id, name, email) VALUES (?, ?, ?)",
				nudgeID, r.Name, r.Email); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		created, err := st.GetNudge(c.Context(), int(nudgeID))
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	}
}

func ListNudgesHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		filter := store.NudgeFilter{
			UserID: userID,
			Status: c.Query("status"),
		}
		if teamID, err := strconv.Atoi(c.Query("team_id")); err == nil {
			filter.TeamID = teamID
		}

		nudges, err := st.ListNudges(c.Context(), filter)
		if err != nil {
			return err
		}
		return c.JSON(nudges)
	}
}

func GetNudgeHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nudgeID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid nudge ID")
		}

		n, err := st.GetNudge(c.Context(), nudgeID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "Nudge not found")
		}
		if err != nil {
			return err
		}
		if err := requireTeamMember(c, st, n.TeamID); err != nil {
			return err
		}

		instances, err := st.RecentInstances(c.Context(), n.ID, 10)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"nudge":     n,
			"instances": instances,
		})
	}
}

func UpdateNudgeHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nudgeID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid nudge ID")
		}

		n, err := st.GetNudge(c.Context(), nudgeID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "Nudge not found")
		}
		if err != nil {
			return err
		}
		if err := requireTeamAdmin(c, st, n.TeamID); err != nil {
			return err
		}

		var req models.UpdateNudgeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		applyNudgePatch(n, req)
		if err := validateNudge(n); err != nil {
			return err
		}

		db := st.DB()
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`UPDATE nudges SET name = ?, description = ?, frequency = ?, interval = ?,
				time_of_day = ?, timezone = ?, day_of_week = ?, monthly_mode = ?, day_of_month = ?,
				nth_week = ?, nth_weekday = ?, end_type = ?, end_date = ?, end_after = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			n.Name, n.Description, n.Frequency, n.Interval,
			n.TimeOfDay, n.Timezone, n.DayOfWeek, nullIfEmpty(n.MonthlyMode), n.DayOfMonth,
			n.NthWeek, n.NthWeekday, n.EndType, n.EndDate, n.EndAfter,
			n.ID,
		)
		if err != nil {
			return err
		}

		// Recipients are owned by the nudge; an edit that includes them
		// replaces the full set.
		if req.Recipients != nil {
			if _, err := tx.Exec("DELETE FROM recipients WHERE nudge_id = ?", n.ID); err != nil {
				return err
			}
			for _, r := range req.Recipients {
				if _, err := tx.Exec(
					"INSERT INTO recipients (nudge_id, name, email) VALUES (?, ?, ?)",
					n.ID, r.Name, r.Email); err != nil {
					return err
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		updated, err := st.GetNudge(c.Context(), n.ID)
		if err != nil {
			return err
		}
		return c.JSON(updated)
	}
}

func applyNudgePatch(n *models.Nudge, req models.UpdateNudgeRequest) {
	if req.Name != nil {
		n.Name = *req.Name
	}
	if req.Description != nil {
		n.Description = *req.Description
	}
	if req.Frequency != nil {
		// Changing frequency resets the old selectors; the request must
		// supply the new ones.
		n.Frequency = *req.Frequency
		n.DayOfWeek = nil
		n.MonthlyMode = ""
		n.DayOfMonth = nil
		n.NthWeek = nil
		n.NthWeekday = nil
	}
	if req.Interval != nil {
		n.Interval = *req.Interval
	}
	if req.TimeOfDay != nil {
		n.TimeOfDay = *req.TimeOfDay
	}
	if req.Timezone != nil {
		n.Timezone = *req.Timezone
	}
	if req.DayOfWeek != nil {
		n.DayOfWeek = req.DayOfWeek
	}
	if req.MonthlyMode != nil {
		n.MonthlyMode = *req.MonthlyMode
	}
	if req.DayOfMonth != nil {
		n.DayOfMonth = req.DayOfMonth
	}
	if req.NthWeek != nil {
		n.NthWeek = req.NthWeek
	}
	if req.NthWeekday != nil {
		n.NthWeekday = req.NthWeekday
	}
	if req.EndType != nil {
		n.EndType = *req.EndType
		n.EndDate = nil
		n.EndAfter = nil
	}
	if req.EndDate != nil {
		n.EndDate = req.EndDate
	}
	if req.EndAfter != nil {
		n.EndAfter = req.EndAfter
	}
}

// SetNudgeStatusHandler serves pause and resume transitions.
func SetNudgeStatusHandler(st *store.Store, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nudgeID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid nudge ID")
		}

		n, err := st.GetNudge(c.Context(), nudgeID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "Nudge not found")
		}
		if err != nil {
			return err
		}
		if err := requireTeamAdmin(c, st, n.TeamID); err != nil {
			return err
		}

		var target string
		switch action {
		case "pause":
			if n.Status != models.NudgeActive {
				return fiber.NewError(fiber.StatusConflict, "Only active nudges can be paused")
			}
			target = models.NudgePaused
		case "resume":
			if n.Status != models.NudgePaused {
				return fiber.NewError(fiber.StatusConflict, "Only paused nudges can be resumed")
			}
			target = models.NudgeActive
		default:
			return fiber.NewError(fiber.StatusBadRequest, "Unknown action")
		}

		if err := st.SetNudgeStatus(c.Context(), n.ID, target); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"success": true, "status": target})
	}
}

// DisableNudgeHandler soft-deletes: nudges are never hard-deleted.
func DisableNudgeHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nudgeID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid nudge ID")
		}

		n, err := st.GetNudge(c.Context(), nudgeID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "Nudge not found")
		}
		if err != nil {
			return err
		}
		if err := requireTeamAdmin(c, st, n.TeamID); err != nil {
			return err
		}

		if err := st.SetNudgeStatus(c.Context(), n.ID, models.NudgeDisabled); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"success": true, "status": models.NudgeDisabled})
	}
}

// PreviewNudgeHandler returns the next few occurrences for display.
func PreviewNudgeHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nudgeID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid nudge ID")
		}

		n, err := st.GetNudge(c.Context(), nudgeID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "Nudge not found")
		}
		if err != nil {
			return err
		}
		if err := requireTeamMember(c, st, n.TeamID); err != nil {
			return err
		}

		count := 5
		if v, err := strconv.Atoi(c.Query("count")); err == nil && v > 0 && v <= 20 {
			count = v
		}

		rule := scheduler.RuleFromNudge(*n)
		after := time.Now()
		occurrences := []time.Time{}
		for i := 0; i < count; i++ {
			next, ok, err := rule.NextOccurrence(after)
			if err != nil {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Nudge schedule cannot be evaluated: "+err.Error())
			}
			if !ok {
				break
			}
			occurrences = append(occurrences, next)
			after = next
			rule.Occurrences++
		}

		return c.JSON(fiber.Map{
			"nudge_id":    n.ID,
			"occurrences": occurrences,
		})
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
