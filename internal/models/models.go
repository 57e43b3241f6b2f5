package models

import "time"

// Nudge lifecycle states.
const (
	NudgeActive   = "active"
	NudgePaused   = "paused"
	NudgeFinished = "finished"
	NudgeDisabled = "disabled"
)

// Instance lifecycle states.
const (
	InstancePending   = "pending"
	InstanceSent      = "sent"
	InstanceCompleted = "completed"
	InstanceExpired   = "expired"
)

// Team member roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Team struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Nudge is a recurring reminder definition. Exactly one of the
// frequency-specific selector groups is populated: DayOfWeek for weekly,
// the monthly fields for monthly. End condition fields follow EndType.
type Nudge struct {
	ID          int    `json:"id"`
	TeamID      int    `json:"team_id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`

	Frequency   string `json:"frequency"` // daily | weekly | monthly
	Interval    int    `json:"interval"`  // every N periods, >= 1
	TimeOfDay   string `json:"time_of_day"`
	Timezone    string `json:"timezone"`
	DayOfWeek   *int   `json:"day_of_week,omitempty"`   // 0=Sunday..6, weekly
	MonthlyMode string `json:"monthly_mode,omitempty"`  // day_of_month | nth_weekday
	DayOfMonth  *int   `json:"day_of_month,omitempty"`  // 1..28
	NthWeek     *int   `json:"nth_week,omitempty"`      // 1..5
	NthWeekday  *int   `json:"nth_weekday,omitempty"`   // 0=Sunday..6

	EndType  string     `json:"end_type"` // never | on_date | after_occurrences
	EndDate  *time.Time `json:"end_date,omitempty"`
	EndAfter *int       `json:"end_after,omitempty"`

	LastInstanceAt *time.Time `json:"last_instance_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Recipients    []Recipient `json:"recipients,omitempty"`
	InstanceCount int         `json:"instance_count,omitempty"`
}

type Recipient struct {
	ID      int    `json:"id"`
	NudgeID int    `json:"nudge_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

// NudgeInstance is one materialized occurrence of a nudge. The slug and
// occurrence date form the idempotency boundary: at most one instance per
// nudge per logical occurrence, regardless of how often the scanner runs.
type NudgeInstance struct {
	ID             int        `json:"id"`
	NudgeID        int        `json:"nudge_id"`
	Slug           string     `json:"slug"`
	OccurrenceDate string     `json:"occurrence_date"` // local date, YYYY-MM-DD
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Status         string     `json:"status"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CompletedBy    string     `json:"completed_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ReminderEvent is one recipient-facing reminder tied to an instance. The
// token is single-use; the completion endpoint resolves it back to the
// owning instance.
type ReminderEvent struct {
	ID             int        `json:"id"`
	InstanceID     int        `json:"instance_id"`
	RecipientName  string     `json:"recipient_name"`
	RecipientEmail string     `json:"recipient_email"`
	Token          string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Sent           bool       `json:"sent"`
	Attempts       int        `json:"attempts"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type PushSubscription struct {
	ID       int    `json:"id"`
	UserID   int    `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type RecipientInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateNudgeRequest struct {
	TeamID      int              `json:"team_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Frequency   string           `json:"frequency"`
	Interval    int              `json:"interval"`
	TimeOfDay   string           `json:"time_of_day"`
	Timezone    string           `json:"timezone"`
	DayOfWeek   *int             `json:"day_of_week,omitempty"`
	MonthlyMode string           `json:"monthly_mode,omitempty"`
	DayOfMonth  *int             `json:"day_of_month,omitempty"`
	NthWeek     *int             `json:"nth_week,omitempty"`
	NthWeekday  *int             `json:"nth_weekday,omitempty"`
	EndType     string           `json:"end_type,omitempty"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	EndAfter    *int             `json:"end_after,omitempty"`
	Recipients  []RecipientInput `json:"recipients"`
}

type UpdateNudgeRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Frequency   *string          `json:"frequency,omitempty"`
	Interval    *int             `json:"interval,omitempty"`
	TimeOfDay   *string          `json:"time_of_day,omitempty"`
	Timezone    *string          `json:"timezone,omitempty"`
	DayOfWeek   *int             `json:"day_of_week,omitempty"`
	MonthlyMode *string          `json:"monthly_mode,omitempty"`
	DayOfMonth  *int             `json:"day_of_month,omitempty"`
	NthWeek     *int             `json:"nth_week,omitempty"`
	NthWeekday  *int             `json:"nth_weekday,omitempty"`
	EndType     *string          `json:"end_type,omitempty"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	EndAfter    *int             `json:"end_after,omitempty"`
	Recipients  []RecipientInput `json:"recipients,omitempty"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type AddMemberRequest struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
