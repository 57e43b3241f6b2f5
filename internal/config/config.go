package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type VapidConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type Config struct {
	Port           string
	DatabasePath   string
	AppURL         string
	AllowedOrigins string

	JWTSecret        string
	JWTRefreshSecret string

	// Shared secret the external time-based trigger presents as a bearer
	// token when invoking a scheduler pass.
	SchedulerSecret string

	// In-process scheduling of passes (cron expression), used when
	// ENABLE_WORKERS is on. The HTTP trigger works either way.
	EnableWorkers        bool
	SchedulerCron        string
	SchedulerWorkers     int
	SchedulerMaxAttempts int

	SMTP  SMTPConfig
	Vapid VapidConfig
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	smtpPort := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		smtpPort = n
	}

	return &Config{
		Port:           getEnvOrDefault("PORT", "3000"),
		DatabasePath:   getEnvOrDefault("DATABASE_PATH", "./data/nudgely.db"),
		AppURL:         getEnvOrDefault("APP_URL", "http://localhost:3000"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),

		SchedulerSecret: os.Getenv("SCHEDULER_SECRET"),

		EnableWorkers:        getEnvOrDefault("ENABLE_WORKERS", "true") == "true",
		SchedulerCron:        getEnvOrDefault("SCHEDULER_CRON", "*/5 * * * *"),
		SchedulerWorkers:     getEnvIntOrDefault("SCHEDULER_WORKERS", 4),
		SchedulerMaxAttempts: getEnvIntOrDefault("SCHEDULER_MAX_ATTEMPTS", 5),

		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     smtpPort,
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     getEnvOrDefault("SMTP_FROM", "nudges@nudgely.app"),
		},
		Vapid: VapidConfig{
			PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:    os.Getenv("VAPID_SUBJECT"),
		},
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
