package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// vipMonitorTask watches for unread mail from the configured VIP senders and
// flags it. An empty VIP list is a successful no-op.
type vipMonitorTask struct {
	d Deps
}

func (t *vipMonitorTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	vips := cfg.Strings("vip_addresses")
	if len(vips) == 0 {
		return agent.Outcome{ActionsTaken: []string{}}, nil
	}
	hoursBack := cfg.Int("hours_back", 4)
	alertOn := cfg.Int("alert_on_count", 1)

	emails, err := t.d.Mailbox.FetchUnread(ctx, mail.Filter{
		Max:   cfg.Int("max_emails", 50),
		Since: time.Now().Add(-time.Duration(hoursBack) * time.Hour),
		From:  vips,
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching vip mail: %w", err)
	}

	out := agent.Outcome{EmailsProcessed: len(emails)}
	for _, e := range emails {
		if _, err := t.d.Mailbox.Label(ctx, e.ID, "vip"); err != nil {
			return out, fmt.Errorf("labeling %s: %w", e.ID, err)
		}
		out.ActionsTaken = append(out.ActionsTaken,
			fmt.Sprintf("flagged vip email from %s", e.From))
	}
	if len(emails) >= alertOn {
		out.ActionsTaken = append(out.ActionsTaken,
			fmt.Sprintf("alert: %d unread vip emails", len(emails)))
		out.Data = map[string]any{"alert": true, "vip_unread": len(emails)}
	}
	return out, nil
}
