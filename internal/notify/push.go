package notify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"nudgely/internal/config"
)

// PushPayload is the notification payload delivered to subscribed browsers.
type PushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Tag   string                 `json:"tag,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Pusher sends web push notifications to a user's registered browser
// subscriptions. Used for in-app signals (a recipient completed a nudge),
// not for the reminder fan-out itself.
type Pusher struct {
	db  *sql.DB
	cfg config.VapidConfig
	log zerolog.Logger
}

func NewPusher(db *sql.DB, cfg config.VapidConfig, log zerolog.Logger) *Pusher {
	return &Pusher{db: db, cfg: cfg, log: log}
}

func (p *Pusher) Configured() bool {
	return p.cfg.PublicKey != "" && p.cfg.PrivateKey != "" && p.cfg.Subject != ""
}

func (p *Pusher) options() *webpush.Options {
	return &webpush.Options{
		Subscriber:      p.cfg.Subject,
		VAPIDPublicKey:  p.cfg.PublicKey,
		VAPIDPrivateKey: p.cfg.PrivateKey,
		TTL:             30,
	}
}

// SendToUser fans a payload out to every subscription the user has. Dead
// subscriptions (410/404) and key-mismatched ones (403) are pruned.
func (p *Pusher) SendToUser(userID int, payload PushPayload) error {
	if !p.Configured() {
		p.log.Debug().Msg("web push not configured, skipping notification")
		return nil
	}

	rows, err := p.db.Query(
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer rows.Close()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	options := p.options()
	sent := 0
	for rows.Next() {
		var endpoint, p256dh, auth string
		if err := rows.Scan(&endpoint, &p256dh, &auth); err != nil {
			p.log.Warn().Err(err).Msg("error scanning push subscription")
			continue
		}

		subscription := &webpush.Subscription{
			Endpoint: endpoint,
			Keys:     webpush.Keys{P256dh: p256dh, Auth: auth},
		}

		resp, err := webpush.SendNotification(payloadJSON, subscription, options)
		if err != nil {
			p.log.Warn().Err(err).Str("endpoint", endpoint).Msg("push send failed")
			if resp != nil && (resp.StatusCode == 410 || resp.StatusCode == 404) {
				_, _ = p.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
			}
			continue
		}
		if resp != nil {
			if resp.StatusCode == 403 {
				// VAPID keys do not match; drop so the client re-subscribes.
				_, _ = p.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		sent++
	}

	p.log.Debug().Int("user_id", userID).Int("sent", sent).Msg("push notifications delivered")
	return nil
}

// NotifyTeamCompletion pushes a completion signal to every member of the
// team owning the nudge.
func (p *Pusher) NotifyTeamCompletion(nudgeID int, nudgeName, actor string) {
	if !p.Configured() {
		return
	}

	rows, err := p.db.Query(
		`SELECT m.user_id FROM team_members m
		JOIN nudges n ON n.team_id = m.team_id
		WHERE n.id = ?`, nudgeID)
	if err != nil {
		p.log.Warn().Err(err).Int("nudge_id", nudgeID).Msg("failed to list team members for push")
		return
	}
	defer rows.Close()

	payload := PushPayload{
		Title: "Nudge completed",
		Body:  fmt.Sprintf("%s completed %q", actor, nudgeName),
		Tag:   fmt.Sprintf("nudgely-complete-%d", nudgeID),
		Data:  map[string]interface{}{"nudge_id": nudgeID},
	}

	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			continue
		}
		if err := p.SendToUser(userID, payload); err != nil {
			p.log.Warn().Err(err).Int("user_id", userID).Msg("completion push failed")
		}
	}
}
