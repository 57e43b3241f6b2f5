// Package scheduler runs one scan-and-dispatch pass over all active
// nudges: evaluate each nudge's recurrence rule, materialize instances and
// reminders for the due ones, then dispatch notifications. Passes are
// triggered externally (HTTP) or by the in-process cron; either way a pass
// is a batch, not a long-lived loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nudgely/internal/models"
	"nudgely/internal/notify"
	"nudgely/internal/schedule"
	"nudgely/internal/store"
)

type Config struct {
	// Workers bounds the per-nudge evaluation pool. Nudges are independent
	// aggregates; idempotency lives in the storage constraint, not here.
	Workers int

	// Tolerance is the tick width: a rule is due when the local wall clock
	// is within [configured time, configured time + Tolerance).
	Tolerance time.Duration

	PassTimeout time.Duration
	ItemTimeout time.Duration

	// MaxAttempts is the dispatch retry ceiling per reminder.
	MaxAttempts int

	// AppURL prefixes completion links embedded in reminders.
	AppURL string

	// TokenTTL is how long a completion token stays valid.
	TokenTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     4,
		Tolerance:   5 * time.Minute,
		PassTimeout: 4 * time.Minute,
		ItemTimeout: 30 * time.Second,
		MaxAttempts: 5,
		AppURL:      "http://localhost:3000",
		TokenTTL:    30 * 24 * time.Hour,
	}
}

// Summary is the per-pass accounting returned to the trigger endpoint.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type Service struct {
	store  *store.Store
	sender notify.Sender
	cfg    Config
	log    zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(st *store.Store, sender notify.Sender, cfg Config, log zerolog.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		store:  st,
		sender: sender,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// SetNow overrides the pass clock; test hook.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Run executes one full pass. A failure to read the active nudge set is
// fatal for the pass; everything after that is isolated per nudge and per
// reminder and only bumps the error counter.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	start := s.now()
	nudges, err := s.store.ActiveNudges(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu  sync.Mutex
		sum Summary
		wg  sync.WaitGroup
	)
	jobs := make(chan models.Nudge)

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				outcome := s.processNudge(ctx, n, start)
				mu.Lock()
				sum.Processed++
				switch outcome {
				case outcomeMaterialized:
				case outcomeSkipped:
					sum.Skipped++
				case outcomeError:
					sum.Errors++
				}
				mu.Unlock()
			}
		}()
	}

	for _, n := range nudges {
		select {
		case jobs <- n:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	// Dispatch happens after materialization so a pass that materializes
	// and a pass that retries old failures look the same here.
	s.dispatch(ctx, &sum)

	if promoted, err := s.store.MarkInstancesSent(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to promote dispatched instances")
		sum.Errors++
	} else if promoted > 0 {
		s.log.Info().Int("instances", promoted).Msg("instances fully dispatched")
	}

	if expired, err := s.store.ExpireInstances(ctx, s.now()); err != nil {
		s.log.Error().Err(err).Msg("failed to expire stale instances")
		sum.Errors++
	} else if expired > 0 {
		s.log.Info().Int("instances", expired).Msg("expired unacknowledged instances")
	}

	if exhausted, err := s.store.ExhaustedReminderCount(ctx, s.cfg.MaxAttempts); err == nil && exhausted > 0 {
		s.log.Warn().Int("reminders", exhausted).Msg("reminders exhausted their dispatch attempts")
		mu.Lock()
		sum.Errors += exhausted
		mu.Unlock()
	}

	s.log.Info().
		Int("processed", sum.Processed).
		Int("sent", sum.Sent).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Dur("took", time.Since(start)).
		Msg("scheduler pass finished")

	return sum, nil
}

type outcome int

const (
	outcomeMaterialized outcome = iota
	outcomeSkipped
	outcomeError
)

// processNudge is one independent unit of work: rule evaluation plus, when
// due, materialization. Errors never escape; they are logged and counted so
// one broken nudge cannot abort the scan of the others.
func (s *Service) processNudge(ctx context.Context, n models.Nudge, now time.Time) outcome {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	rule := RuleFromNudge(n)

	if rule.Ended(now) {
		if err := s.store.SetNudgeStatus(ctx, n.ID, models.NudgeFinished); err != nil {
			s.log.Error().Err(err).Int("nudge_id", n.ID).Msg("failed to finish ended nudge")
			return outcomeError
		}
		s.log.Info().Int("nudge_id", n.ID).Str("slug", n.Slug).Msg("nudge reached its end condition")
		return outcomeSkipped
	}

	due, err := rule.IsDue(now, s.cfg.Tolerance)
	if err != nil {
		s.log.Warn().Err(err).Int("nudge_id", n.ID).Str("slug", n.Slug).Msg("rule evaluation failed")
		return outcomeError
	}
	if !due {
		return outcomeSkipped
	}

	created, err := s.materialize(ctx, n, rule, now)
	if err != nil {
		s.log.Error().Err(err).Int("nudge_id", n.ID).Str("slug", n.Slug).Msg("materialization failed")
		return outcomeError
	}
	if !created {
		// Another pass got there first; duplicate materialization is a no-op.
		return outcomeSkipped
	}
	return outcomeMaterialized
}

// RuleFromNudge maps the stored nudge row onto a pure recurrence rule.
func RuleFromNudge(n models.Nudge) schedule.Rule {
	r := schedule.Rule{
		Frequency:   schedule.Frequency(n.Frequency),
		Interval:    n.Interval,
		TimeOfDay:   n.TimeOfDay,
		Timezone:    n.Timezone,
		MonthlyMode: schedule.MonthlyMode(n.MonthlyMode),
		EndType:     schedule.EndType(n.EndType),
		EndDate:     n.EndDate,
		Anchor:      n.CreatedAt,
		Occurrences: n.InstanceCount,
	}
	if n.DayOfWeek != nil {
		r.DayOfWeek = *n.DayOfWeek
	}
	if n.DayOfMonth != nil {
		r.DayOfMonth = *n.DayOfMonth
	}
	if n.NthWeek != nil {
		r.NthWeek = *n.NthWeek
	}
	if n.NthWeekday != nil {
		r.NthWeekday = *n.NthWeekday
	}
	if n.EndAfter != nil {
		r.EndAfter = *n.EndAfter
	}
	if r.EndType == "" {
		r.EndType = schedule.EndNever
	}
	return r
}
