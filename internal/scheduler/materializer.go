package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nudgely/internal/models"
	"nudgely/internal/schedule"
)

// materialize creates the durable instance for a due nudge plus one
// reminder per recipient. The instance slug is derived from the logical
// occurrence date, not the wall clock, so two overlapping passes compute
// the same key and the storage constraint collapses them to one row.
// Instance creation is the commit point: reminders and bookkeeping follow
// only for the pass that actually created the row.
func (s *Service) materialize(ctx context.Context, n models.Nudge, rule schedule.Rule, now time.Time) (bool, error) {
	hour, minute, err := schedule.ParseClock(n.TimeOfDay)
	if err != nil {
		return false, err
	}
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	scheduledFor := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc).UTC()
	occurrenceDate := local.Format("2006-01-02")

	inst := &models.NudgeInstance{
		NudgeID:        n.ID,
		Slug:           fmt.Sprintf("%s-%s", n.Slug, local.Format("20060102")),
		OccurrenceDate: occurrenceDate,
		ScheduledFor:   scheduledFor,
		Status:         models.InstancePending,
	}

	created, err := s.store.CreateInstance(ctx, inst)
	if err != nil {
		return false, err
	}
	if !created {
		s.log.Debug().
			Int("nudge_id", n.ID).
			Str("occurrence", occurrenceDate).
			Msg("instance already materialized for this occurrence")
		return false, nil
	}

	events := make([]models.ReminderEvent, 0, len(n.Recipients))
	for _, rcpt := range n.Recipients {
		events = append(events, models.ReminderEvent{
			InstanceID:     inst.ID,
			RecipientName:  rcpt.Name,
			RecipientEmail: rcpt.Email,
			Token:          uuid.NewString(),
			ExpiresAt:      now.Add(s.cfg.TokenTTL),
		})
	}
	if len(events) > 0 {
		if err := s.store.CreateReminderEvents(ctx, events); err != nil {
			return true, fmt.Errorf("instance %d created but reminders failed: %w", inst.ID, err)
		}
	}

	if err := s.store.SetNudgeLastInstance(ctx, n.ID, now); err != nil {
		return true, err
	}

	s.log.Info().
		Int("nudge_id", n.ID).
		Str("slug", inst.Slug).
		Int("recipients", len(events)).
		Msg("materialized nudge instance")
	return true, nil
}
