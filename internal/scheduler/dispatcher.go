package scheduler

import (
	"context"
	"fmt"

	"nudgely/internal/notify"
)

// dispatch sends every unsent reminder that still has attempts left. A
// failed send records the attempt and stays queued for the next pass; a
// failure for one reminder never blocks the rest.
func (s *Service) dispatch(ctx context.Context, sum *Summary) {
	reminders, err := s.store.PendingReminders(ctx, s.cfg.MaxAttempts)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load pending reminders")
		sum.Errors++
		return
	}

	for _, r := range reminders {
		if ctx.Err() != nil {
			return
		}

		msg := notify.Message{
			To:          r.RecipientEmail,
			ToName:      r.RecipientName,
			NudgeName:   r.NudgeName,
			Description: r.NudgeDescription,
			CompleteURL: fmt.Sprintf("%s/api/complete/%s", s.cfg.AppURL, r.Token),
			ExpiresAt:   r.ExpiresAt,
		}

		sendErr := s.sender.Send(ctx, msg)
		if err := s.store.RecordDispatch(ctx, r.ID, sendErr == nil, s.now()); err != nil {
			s.log.Error().Err(err).Int("reminder_id", r.ID).Msg("failed to record dispatch outcome")
			sum.Errors++
			continue
		}

		if sendErr != nil {
			s.log.Warn().Err(sendErr).
				Int("reminder_id", r.ID).
				Int("attempt", r.Attempts+1).
				Str("to", r.RecipientEmail).
				Msg("reminder dispatch failed")
			sum.Errors++
			continue
		}
		sum.Sent++
	}
}
