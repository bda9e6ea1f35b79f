package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// cleanupTask archives read mail older than the configured threshold, at
// most one batch per run so a backlog drains gradually.
type cleanupTask struct {
	d Deps
}

func (t *cleanupTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	thresholdDays := cfg.Int("archive_threshold_days", 30)
	batchSize := cfg.Int("batch_size", 25)

	emails, err := t.d.Mailbox.Fetch(ctx, mail.Filter{
		Max:       cfg.Int("max_emails", 100),
		OlderThan: time.Now().AddDate(0, 0, -thresholdDays),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching old mail: %w", err)
	}

	out := agent.Outcome{ActionsTaken: []string{}}
	for _, e := range emails {
		if e.Unread {
			continue // never archive something the user has not seen
		}
		conf, err := t.d.Mailbox.Archive(ctx, e.ID)
		if err != nil {
			return out, fmt.Errorf("archiving %s: %w", e.ID, err)
		}
		out.EmailsProcessed++
		out.ActionsTaken = append(out.ActionsTaken,
			fmt.Sprintf("%s %s", conf.Action, conf.MessageID))
		if out.EmailsProcessed >= batchSize {
			break
		}
	}
	return out, nil
}
