package api

import (
	"github.com/gofiber/fiber/v2"

	"nudgely/internal/scheduler"
)

// RunSchedulerHandler executes one scan-and-dispatch pass. Per-nudge
// failures are already folded into the summary counters; only a pass that
// cannot start at all surfaces as a 500, and without internal detail.
func RunSchedulerHandler(sched *scheduler.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		summary, err := sched.Run(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Scheduler pass failed")
		}
		return c.JSON(summary)
	}
}
