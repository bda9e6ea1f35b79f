package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// voiceTask answers an explicit "what's in my inbox" request. Manual only;
// the scheduler never fires it.
type voiceTask struct {
	d Deps
}

func (t *voiceTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	emails, err := t.d.Mailbox.FetchUnread(ctx, mail.Filter{
		Max:   cfg.Int("max_emails", 10),
		Since: time.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching unread: %w", err)
	}

	senders := make([]string, 0, len(emails))
	for _, e := range emails {
		senders = append(senders, e.From)
	}
	return agent.Outcome{
		EmailsProcessed: len(emails),
		ActionsTaken:    []string{fmt.Sprintf("reported %d unread emails", len(emails))},
		Data: map[string]any{
			"unread_count": len(emails),
			"senders":      senders,
		},
	}, nil
}
