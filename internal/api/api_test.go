package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"nudgely/internal/api"
	"nudgely/internal/auth"
	"nudgely/internal/completion"
	"nudgely/internal/database"
	"nudgely/internal/models"
	"nudgely/internal/notify"
	"nudgely/internal/scheduler"
	"nudgely/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const testSchedulerSecret = "scheduler-trigger-secret"

func TestMain(m *testing.M) {
	err := auth.Configure(auth.Config{
		Secret:       "test-signing-secret-test-signing-secret",
		CookieSecure: false,
	})
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := database.Initialize(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// In-memory sqlite is per-connection; keep the schema's connection.
	db.SetMaxOpenConns(1)
	return db
}

func setupTestApp(db *sql.DB) (*fiber.App, *store.Store) {
	st := store.New(db)
	sched := scheduler.New(st, notify.LogSender{Log: zerolog.Nop()}, scheduler.DefaultConfig(), zerolog.Nop())
	comp := completion.New(st, zerolog.Nop())

	app := fiber.New()
	api.SetupRoutes(app, api.Deps{
		Store:           st,
		Scheduler:       sched,
		Completion:      comp,
		SchedulerSecret: testSchedulerSecret,
	})
	return app, st
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody
}

func registerUser(t *testing.T, app *fiber.App, username string) string {
	t.Helper()
	code, body := doJSON(t, app, "POST", "/api/auth/register", "", models.RegisterRequest{
		Username: username,
		Password: "password123",
	})
	if code != 201 {
		t.Fatalf("Expected status 201, got %d: %s", code, string(body))
	}
	var authResp models.AuthResponse
	json.Unmarshal(body, &authResp)
	if authResp.Token == "" {
		t.Fatal("Expected token in response")
	}
	return authResp.Token
}

func createTeam(t *testing.T, app *fiber.App, token, name string) int {
	t.Helper()
	code, body := doJSON(t, app, "POST", "/api/teams/", token, models.CreateTeamRequest{Name: name})
	if code != 201 {
		t.Fatalf("Expected status 201, got %d: %s", code, string(body))
	}
	var team models.Team
	json.Unmarshal(body, &team)
	if team.ID == 0 {
		t.Fatal("Expected team ID in response")
	}
	return team.ID
}

func weeklyNudgeRequest(teamID int) models.CreateNudgeRequest {
	wednesday := 3
	return models.CreateNudgeRequest{
		TeamID:    teamID,
		Name:      "Weekly standup notes",
		Frequency: "weekly",
		Interval:  1,
		TimeOfDay: "9:00 AM",
		Timezone:  "Australia/Sydney",
		DayOfWeek: &wednesday,
		Recipients: []models.RecipientInput{
			{Name: "Ana", Email: "ana@example.com"},
			{Name: "Ben", Email: "ben@example.com"},
		},
	}
}

func TestRegisterAndLogin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	registerUser(t, app, "testuser")

	code, body := doJSON(t, app, "POST", "/api/auth/login", "", models.LoginRequest{
		Username: "testuser",
		Password: "password123",
	})
	if code != 200 {
		t.Fatalf("Expected status 200, got %d: %s", code, string(body))
	}

	var loginResp models.AuthResponse
	json.Unmarshal(body, &loginResp)
	if loginResp.Token == "" {
		t.Fatal("Expected token in response")
	}
	if loginResp.User.Username != "testuser" {
		t.Fatalf("Expected username testuser, got %s", loginResp.User.Username)
	}
}

func TestCreateNudge(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	token := registerUser(t, app, "testuser")
	teamID := createTeam(t, app, token, "Platform")

	code, body := doJSON(t, app, "POST", "/api/nudges/", token, weeklyNudgeRequest(teamID))
	if code != 201 {
		t.Fatalf("Expected status 201, got %d: %s", code, string(body))
	}

	var nudge models.Nudge
	json.Unmarshal(body, &nudge)
	if nudge.Status != models.NudgeActive {
		t.Fatalf("Expected status active, got %s", nudge.Status)
	}
	if nudge.Slug == "" {
		t.Fatal("Expected a generated slug")
	}
	if len(nudge.Recipients) != 2 {
		t.Fatalf("Expected 2 recipients, got %d", len(nudge.Recipients))
	}
	if nudge.EndType != "never" {
		t.Fatalf("Expected end_type never, got %s", nudge.EndType)
	}
}

func TestCreateNudgeValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	token := registerUser(t, app, "testuser")
	teamID := createTeam(t, app, token, "Platform")

	// 24-hour clock values are rejected.
	bad := weeklyNudgeRequest(teamID)
	bad.TimeOfDay = "14:00"
	code, _ := doJSON(t, app, "POST", "/api/nudges/", token, bad)
	if code != 400 {
		t.Fatalf("Expected status 400, got %d", code)
	}

	// Weekly without a weekday is rejected.
	bad = weeklyNudgeRequest(teamID)
	bad.DayOfWeek = nil
	code, _ = doJSON(t, app, "POST", "/api/nudges/", token, bad)
	if code != 400 {
		t.Fatalf("Expected status 400, got %d", code)
	}

	// Day-of-month 31 is accepted but clamped to 28.
	day := 31
	monthly := models.CreateNudgeRequest{
		TeamID:      teamID,
		Name:        "Invoice run",
		Frequency:   "monthly",
		Interval:    1,
		TimeOfDay:   "9:00 AM",
		Timezone:    "UTC",
		MonthlyMode: "day_of_month",
		DayOfMonth:  &day,
	}
	code, body := doJSON(t, app, "POST", "/api/nudges/", token, monthly)
	if code != 201 {
		t.Fatalf("Expected status 201, got %d: %s", code, string(body))
	}
	var nudge models.Nudge
	json.Unmarshal(body, &nudge)
	if nudge.DayOfMonth == nil || *nudge.DayOfMonth != 28 {
		t.Fatalf("Expected day_of_month clamped to 28, got %v", nudge.DayOfMonth)
	}
}

func TestPauseAndResumeNudge(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	token := registerUser(t, app, "testuser")
	teamID := createTeam(t, app, token, "Platform")

	_, body := doJSON(t, app, "POST", "/api/nudges/", token, weeklyNudgeRequest(teamID))
	var nudge models.Nudge
	json.Unmarshal(body, &nudge)

	path := fmt.Sprintf("/api/nudges/%d", nudge.ID)

	// Resuming an active nudge conflicts.
	code, _ := doJSON(t, app, "PUT", path+"/resume", token, nil)
	if code != 409 {
		t.Fatalf("Expected status 409, got %d", code)
	}

	code, _ = doJSON(t, app, "PUT", path+"/pause", token, nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d", code)
	}
	code, _ = doJSON(t, app, "PUT", path+"/resume", token, nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d", code)
	}
}

func TestNudgeAccessRequiresMembership(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	adminToken := registerUser(t, app, "admin")
	teamID := createTeam(t, app, adminToken, "Platform")

	_, body := doJSON(t, app, "POST", "/api/nudges/", adminToken, weeklyNudgeRequest(teamID))
	var nudge models.Nudge
	json.Unmarshal(body, &nudge)

	outsiderToken := registerUser(t, app, "outsider")
	code, _ := doJSON(t, app, "GET", fmt.Sprintf("/api/nudges/%d", nudge.ID), outsiderToken, nil)
	if code != 403 {
		t.Fatalf("Expected status 403, got %d", code)
	}

	// Listing scoped to membership hides the nudge entirely.
	code, body = doJSON(t, app, "GET", "/api/nudges/", outsiderToken, nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d", code)
	}
	var nudges []models.Nudge
	json.Unmarshal(body, &nudges)
	if len(nudges) != 0 {
		t.Fatalf("Expected 0 nudges for non-member, got %d", len(nudges))
	}
}

func TestSchedulerTriggerAuth(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, _ := setupTestApp(db)

	code, _ := doJSON(t, app, "POST", "/api/internal/scheduler/run", "", nil)
	if code != 401 {
		t.Fatalf("Expected status 401, got %d", code)
	}

	code, _ = doJSON(t, app, "POST", "/api/internal/scheduler/run", "wrong-secret", nil)
	if code != 401 {
		t.Fatalf("Expected status 401, got %d", code)
	}

	code, body := doJSON(t, app, "POST", "/api/internal/scheduler/run", testSchedulerSecret, nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d: %s", code, string(body))
	}
	var sum scheduler.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Processed != 0 || sum.Errors != 0 {
		t.Fatalf("Expected an empty pass, got %+v", sum)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	app, st := setupTestApp(db)

	token := registerUser(t, app, "testuser")
	teamID := createTeam(t, app, token, "Platform")
	_, body := doJSON(t, app, "POST", "/api/nudges/", token, weeklyNudgeRequest(teamID))
	var nudge models.Nudge
	json.Unmarshal(body, &nudge)

	inst := &models.NudgeInstance{
		NudgeID:        nudge.ID,
		Slug:           nudge.Slug + "-20260902",
		OccurrenceDate: "2026-09-02",
		ScheduledFor:   time.Date(2026, 9, 2, 23, 0, 0, 0, time.UTC),
		Status:         models.InstanceSent,
	}
	created, err := st.CreateInstance(context.Background(), inst)
	if err != nil || !created {
		t.Fatalf("Failed to seed instance: %v", err)
	}
	err = st.CreateReminderEvents(context.Background(), []models.ReminderEvent{{
		InstanceID:     inst.ID,
		RecipientName:  "Ana",
		RecipientEmail: "ana@example.com",
		Token:          "complete-me",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}})
	if err != nil {
		t.Fatal(err)
	}

	code, body := doJSON(t, app, "GET", "/api/complete/complete-me", "", nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d: %s", code, string(body))
	}
	var result map[string]any
	json.Unmarshal(body, &result)
	if result["status"] != "completed" {
		t.Fatalf("Expected status completed, got %v", result["status"])
	}

	// A replayed link reports the earlier completion instead of failing.
	code, body = doJSON(t, app, "GET", "/api/complete/complete-me", "", nil)
	if code != 200 {
		t.Fatalf("Expected status 200, got %d", code)
	}
	json.Unmarshal(body, &result)
	if result["status"] != "already_completed" {
		t.Fatalf("Expected status already_completed, got %v", result["status"])
	}

	code, _ = doJSON(t, app, "GET", "/api/complete/unknown-token", "", nil)
	if code != 404 {
		t.Fatalf("Expected status 404, got %d", code)
	}
}
