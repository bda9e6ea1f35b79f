package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// briefingTask summarizes the recent inbox into a morning briefing.
type briefingTask struct {
	d Deps
}

func (t *briefingTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	hoursBack := cfg.Int("hours_back", 24)
	emails, err := t.d.Mailbox.Fetch(ctx, mail.Filter{
		Max:   cfg.Int("max_emails", 50),
		Since: time.Now().Add(-time.Duration(hoursBack) * time.Hour),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching recent mail: %w", err)
	}
	if len(emails) == 0 {
		return agent.Outcome{
			ActionsTaken: []string{"briefing: quiet inbox, nothing to report"},
		}, nil
	}

	summary, err := t.d.Assistant.Summarize(ctx, emails)
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("summarizing inbox: %w", err)
	}
	return agent.Outcome{
		EmailsProcessed: len(emails),
		ActionsTaken: []string{
			fmt.Sprintf("briefing generated from %d emails, %d action items",
				len(emails), len(summary.ActionItems)),
		},
		Data: map[string]any{
			"summary":      summary.Summary,
			"action_items": summary.ActionItems,
			"fyi":          summary.FYI,
		},
	}, nil
}
