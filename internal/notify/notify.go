package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Message is one reminder notification addressed to a single recipient.
// CompleteURL carries the single-use completion token.
type Message struct {
	To          string
	ToName      string
	NudgeName   string
	Description string
	CompleteURL string
	ExpiresAt   time.Time
}

// Sender delivers reminder notifications. The dispatch coordinator treats
// a returned error as a failed attempt and retries on a later pass, up to
// the attempt ceiling.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender is the fallback when no SMTP server is configured: it logs the
// would-be delivery and reports success so local setups still progress
// instances through the pipeline.
type LogSender struct {
	Log zerolog.Logger
}

func (l LogSender) Send(ctx context.Context, m Message) error {
	l.Log.Info().
		Str("to", m.To).
		Str("nudge", m.NudgeName).
		Msg("smtp not configured, logging reminder instead of sending")
	return nil
}
