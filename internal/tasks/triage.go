package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// triageTask classifies unread mail into priority buckets and labels it.
// When a classification falls below the confidence bar the default priority
// applies instead. Hitting the fetch cap produces a self-tuning proposal to
// raise it.
type triageTask struct {
	d Deps
}

func (t *triageTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	maxEmails := cfg.Int("max_emails", 25)
	batchSize := cfg.Int("batch_size", 10)
	hoursBack := cfg.Int("hours_back", 24)
	minConfidence := cfg.Float("min_confidence", 0.7)
	defaultPriority := cfg.String("priority_default", "medium")

	emails, err := t.d.Mailbox.FetchUnread(ctx, mail.Filter{
		Max:   maxEmails,
		Since: time.Now().Add(-time.Duration(hoursBack) * time.Hour),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching unread: %w", err)
	}
	if len(emails) == 0 {
		return agent.Outcome{ActionsTaken: []string{}}, nil
	}

	out := agent.Outcome{}
	for start := 0; start < len(emails); start += batchSize {
		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}
		batch := emails[start:end]

		classifications, err := t.d.Assistant.Classify(ctx, batch)
		if err != nil {
			return out, fmt.Errorf("classifying batch: %w", err)
		}
		for _, c := range classifications {
			priority := string(c.Priority)
			if c.Confidence < minConfidence {
				priority = defaultPriority
			}
			if _, err := t.d.Mailbox.Label(ctx, c.EmailID, "priority/"+priority); err != nil {
				return out, fmt.Errorf("labeling %s: %w", c.EmailID, err)
			}
			out.EmailsProcessed++
			out.ActionsTaken = append(out.ActionsTaken,
				fmt.Sprintf("labeled %s as %s", c.EmailID, priority))
		}
	}

	if len(emails) == maxEmails && maxEmails < 200 {
		proposed := maxEmails * 2
		if proposed > 200 {
			proposed = 200
		}
		out.Proposal = &agent.Proposal{
			Field:    "max_emails",
			NewValue: proposed,
			Reason:   fmt.Sprintf("fetch returned the full cap of %d unread emails", maxEmails),
		}
	}
	return out, nil
}
