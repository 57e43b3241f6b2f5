package api

import (
	"database/sql"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"nudgely/internal/models"
	"nudgely/internal/store"
)

func CreateTeamHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		var req models.CreateTeamRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Team name is required")
		}

		db := st.DB()
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		slug := slugify(req.Name)
		result, err := tx.Exec("INSERT INTO teams (name, slug) VALUES (?, ?)", req.Name, slug)
		if err != nil {
			return err
		}
		teamID, _ := result.LastInsertId()

		// Creator becomes the team admin.
		if _, err := tx.Exec(
			"INSERT INTO team_members (team_id, user_id, role) VALUES (?, ?, ?)",
			teamID, userID, models.RoleAdmin); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		var team models.Team
		err = db.QueryRow("SELECT id, name, slug, created_at FROM teams WHERE id = ?", teamID).
			Scan(&team.ID, &team.Name, &team.Slug, &team.CreatedAt)
		if err != nil {
			return err
		}
		team.Role = models.RoleAdmin

		return c.Status(fiber.StatusCreated).JSON(team)
	}
}

func ListTeamsHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)

		rows, err := st.DB().Query(
			`SELECT t.id, t.name, t.slug, m.role, t.created_at
			FROM teams t JOIN team_members m ON m.team_id = t.id
			WHERE m.user_id = ? ORDER BY t.created_at`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		teams := []models.Team{}
		for rows.Next() {
			var t models.Team
			if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Role, &t.CreatedAt); err != nil {
				return err
			}
			teams = append(teams, t)
		}

		return c.JSON(teams)
	}
}

func AddTeamMemberHandler(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(int)
		teamID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid team ID")
		}

		role, member, err := st.IsTeamMember(c.Context(), teamID, userID)
		if err != nil {
			return err
		}
		if !member || role != models.RoleAdmin {
			return fiber.NewError(fiber.StatusForbidden, "Team admin access required")
		}

		var req models.AddMemberRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.Role == "" {
			req.Role = models.RoleMember
		}
		if req.Role != models.RoleMember && req.Role != models.RoleAdmin {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid role")
		}

		db := st.DB()
		var newUserID int
		err = db.QueryRow("SELECT id FROM users WHERE username = ?", req.Username).Scan(&newUserID)
		if err == sql.ErrNoRows {
			return fiber.NewError(fiber.StatusNotFound, "User not found")
		}
		if err != nil {
			return err
		}

		if _, err := db.Exec(
			`INSERT INTO team_members (team_id, user_id, role) VALUES (?, ?, ?)
			ON CONFLICT(team_id, user_id) DO UPDATE SET role = excluded.role`,
			teamID, newUserID, req.Role); err != nil {
			return err
		}

		return c.JSON(fiber.Map{"success": true})
	}
}
