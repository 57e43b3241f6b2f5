package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"nudgely/internal/api"
	"nudgely/internal/auth"
	"nudgely/internal/completion"
	"nudgely/internal/config"
	"nudgely/internal/database"
	"nudgely/internal/notify"
	"nudgely/internal/scheduler"
	"nudgely/internal/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := auth.Configure(auth.Config{
		Secret:        cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		CookieSecure:  os.Getenv("COOKIE_SECURE") != "false",
	}); err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET is required and must be at least 32 characters")
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	st := store.New(db)

	// Reminder delivery: SMTP when configured, otherwise log-only so the
	// pipeline still progresses in local setups.
	var sender notify.Sender
	if emailSender, err := notify.NewEmailSender(cfg.SMTP, log); err != nil {
		log.Warn().Err(err).Msg("email delivery disabled")
		sender = notify.LogSender{Log: log}
	} else {
		sender = emailSender
	}

	pusher := notify.NewPusher(db, cfg.Vapid, log)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Workers = cfg.SchedulerWorkers
	schedCfg.MaxAttempts = cfg.SchedulerMaxAttempts
	schedCfg.AppURL = cfg.AppURL
	sched := scheduler.New(st, sender, schedCfg, log)

	comp := completion.New(st, log)

	// In-process pass trigger. Deployments with an external cron hitting
	// the trigger endpoint run with ENABLE_WORKERS=false.
	if cfg.EnableWorkers {
		c := cron.New()
		_, err := c.AddFunc(cfg.SchedulerCron, func() {
			if _, err := sched.Run(context.Background()); err != nil {
				log.Error().Err(err).Msg("scheduler pass failed")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("spec", cfg.SchedulerCron).Msg("invalid scheduler cron expression")
		}
		c.Start()
		defer c.Stop()
		log.Info().Str("spec", cfg.SchedulerCron).Msg("background scheduler started")
	} else {
		log.Info().Msg("background scheduler disabled (set ENABLE_WORKERS=true to enable)")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(logger.New())

	// CORS configuration: restrict to specific origins for security
	allowedOrigins := strings.TrimSpace(cfg.AllowedOrigins)
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:80,http://localhost:5173" // Default for local dev
		log.Warn().Msg("using default ALLOWED_ORIGINS; set ALLOWED_ORIGINS for production")
	} else if allowedOrigins != "*" {
		parts := strings.Split(allowedOrigins, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		allowedOrigins = strings.Join(parts, ",")
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true, // Required for cookies
	}))

	api.SetupRoutes(app, api.Deps{
		Store:               st,
		Scheduler:           sched,
		Completion:          comp,
		Pusher:              pusher,
		SchedulerSecret:     cfg.SchedulerSecret,
		VapidPublicKey:      cfg.Vapid.PublicKey,
		DisableRegistration: strings.ToLower(os.Getenv("DISABLE_REGISTRATION")) == "true",
	})

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
