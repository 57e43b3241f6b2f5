package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"nudgely/internal/completion"
	"nudgely/internal/notify"
)

// CompleteReminderHandler is the public callback behind the link in each
// reminder email. Every outcome maps to a categorized reason the recipient
// can act on; none of the user-facing cases surface as a generic failure.
func CompleteReminderHandler(comp *completion.Service, pusher *notify.Pusher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Params("token")
		if token == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Missing token")
		}

		result, err := comp.Complete(c.Context(), token)
		switch {
		case errors.Is(err, completion.ErrTokenNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "not_found",
				"message": "This reminder link is not recognized.",
			})
		case errors.Is(err, completion.ErrTokenExpired):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{
				"status":  "expired",
				"message": "This reminder link has expired.",
			})
		case errors.Is(err, completion.ErrAlreadyCompleted):
			return c.JSON(fiber.Map{
				"status":  "already_completed",
				"message": "This nudge was already marked as done.",
			})
		case err != nil:
			return err
		}

		if pusher != nil {
			go pusher.NotifyTeamCompletion(result.NudgeID, result.NudgeName, result.CompletedBy)
		}

		return c.JSON(fiber.Map{
			"status":       "completed",
			"message":      "Thanks, the nudge is marked as done.",
			"nudge_name":   result.NudgeName,
			"completed_at": result.CompletedAt,
		})
	}
}
