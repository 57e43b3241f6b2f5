// Package completion handles recipient acknowledgements: a token from a
// reminder link resolves to an instance, which transitions to completed
// exactly once.
package completion

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nudgely/internal/models"
	"nudgely/internal/store"
)

var (
	ErrTokenNotFound    = errors.New("completion token not found")
	ErrTokenExpired     = errors.New("completion token expired")
	ErrAlreadyCompleted = errors.New("instance already completed")
)

// Result describes a successful completion.
type Result struct {
	NudgeID     int       `json:"nudge_id"`
	NudgeName   string    `json:"nudge_name"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy string    `json:"completed_by"`
}

type Service struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(st *store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// SetNow overrides the clock; test hook.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Complete marks the instance behind the token as completed. Repeated
// calls (double-click, replayed link) observe ErrAlreadyCompleted; the
// first completion's actor and timestamp are never overwritten.
func (s *Service) Complete(ctx context.Context, token string) (*Result, error) {
	tr, err := s.store.ReminderByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	if tr.InstanceStatus == models.InstanceCompleted {
		return nil, ErrAlreadyCompleted
	}

	now := s.now()
	if now.After(tr.ExpiresAt) {
		if err := s.store.ExpireInstance(ctx, tr.InstanceID); err != nil {
			s.log.Warn().Err(err).Int("instance_id", tr.InstanceID).Msg("failed to expire instance")
		}
		return nil, ErrTokenExpired
	}

	ok, err := s.store.CompleteInstance(ctx, tr.InstanceID, tr.RecipientEmail, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to a concurrent completion.
		return nil, ErrAlreadyCompleted
	}

	s.log.Info().
		Int("instance_id", tr.InstanceID).
		Int("nudge_id", tr.NudgeID).
		Str("by", tr.RecipientEmail).
		Msg("instance completed")

	return &Result{
		NudgeID:     tr.NudgeID,
		NudgeName:   tr.NudgeName,
		CompletedAt: now,
		CompletedBy: tr.RecipientEmail,
	}, nil
}
