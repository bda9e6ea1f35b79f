package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// digestTask produces the weekly inbox digest.
type digestTask struct {
	d Deps
}

func (t *digestTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	hoursBack := cfg.Int("hours_back", 168)
	emails, err := t.d.Mailbox.Fetch(ctx, mail.Filter{
		Max:   cfg.Int("max_emails", 100),
		Since: time.Now().Add(-time.Duration(hoursBack) * time.Hour),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching week of mail: %w", err)
	}
	if len(emails) == 0 {
		return agent.Outcome{ActionsTaken: []string{"digest: no mail this week"}}, nil
	}

	summary, err := t.d.Assistant.Summarize(ctx, emails)
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("summarizing week: %w", err)
	}
	return agent.Outcome{
		EmailsProcessed: len(emails),
		ActionsTaken:    []string{fmt.Sprintf("weekly digest generated from %d emails", len(emails))},
		Data: map[string]any{
			"summary": summary.Summary,
			"fyi":     summary.FYI,
		},
	}, nil
}
