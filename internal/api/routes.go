package api

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"nudgely/internal/completion"
	"nudgely/internal/notify"
	"nudgely/internal/scheduler"
	"nudgely/internal/store"
)

// Deps bundles everything the handlers need; main wires it once. No
// package-level singletons.
type Deps struct {
	Store      *store.Store
	Scheduler  *scheduler.Service
	Completion *completion.Service
	Pusher     *notify.Pusher

	SchedulerSecret     string
	VapidPublicKey      string
	DisableRegistration bool
}

func (d Deps) db() *sql.DB {
	return d.Store.DB()
}

func SetupRoutes(app *fiber.App, deps Deps) {
	api := app.Group("/api")

	// Configuration endpoint (public)
	api.Get("/config", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"disableRegistration": deps.DisableRegistration,
		})
	})

	// Auth routes
	auth := api.Group("/auth")
	if !deps.DisableRegistration {
		auth.Post("/register", RegisterHandler(deps.db()))
	}
	auth.Post("/login", LoginHandler(deps.db()))
	auth.Post("/refresh", RefreshTokenHandler(deps.db()))
	auth.Post("/logout", LogoutHandler(deps.db()))

	// Public endpoints: recipient completion callback and VAPID key.
	api.Get("/complete/:token", CompleteReminderHandler(deps.Completion, deps.Pusher))
	api.Get("/push/vapid-public-key", VapidPublicKeyHandler(deps.VapidPublicKey))

	// Internal trigger for the external time-based scheduler.
	api.Post("/internal/scheduler/run", SchedulerAuth(deps.SchedulerSecret), RunSchedulerHandler(deps.Scheduler))

	// Protected routes
	protected := api.Group("/", AuthMiddleware())

	// Team routes
	teams := protected.Group("/teams")
	teams.Post("/", CreateTeamHandler(deps.Store))
	teams.Get("/", ListTeamsHandler(deps.Store))
	teams.Post("/:id/members", AddTeamMemberHandler(deps.Store))

	// Nudge routes
	nudges := protected.Group("/nudges")
	nudges.Post("/", CreateNudgeHandler(deps.Store))
	nudges.Get("/", ListNudgesHandler(deps.Store))
	nudges.Get("/:id", GetNudgeHandler(deps.Store))
	nudges.Put("/:id", UpdateNudgeHandler(deps.Store))
	nudges.Put("/:id/pause", SetNudgeStatusHandler(deps.Store, "pause"))
	nudges.Put("/:id/resume", SetNudgeStatusHandler(deps.Store, "resume"))
	nudges.Delete("/:id", DisableNudgeHandler(deps.Store))
	nudges.Get("/:id/preview", PreviewNudgeHandler(deps.Store))

	// Push subscription routes
	push := protected.Group("/push")
	push.Post("/subscribe", SubscribePushHandler(deps.db()))
	push.Delete("/unsubscribe", UnsubscribePushHandler(deps.db()))

	// User profile routes
	user := protected.Group("/user")
	user.Get("/profile", GetUserProfileHandler(deps.db()))
	user.Put("/email", UpdateUserEmailHandler(deps.db()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
