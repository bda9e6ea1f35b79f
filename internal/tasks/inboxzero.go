package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/mail"
)

// inboxZeroTask works the unread backlog down: mail that needs no reply is
// archived, the rest gets a draft attached as a label marker. Drafts are
// never sent automatically.
type inboxZeroTask struct {
	d Deps
}

func (t *inboxZeroTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	hoursBack := cfg.Int("hours_back", 48)
	batchSize := cfg.Int("batch_size", 20)

	emails, err := t.d.Mailbox.FetchUnread(ctx, mail.Filter{
		Max:   cfg.Int("max_emails", 50),
		Since: time.Now().Add(-time.Duration(hoursBack) * time.Hour),
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("fetching unread: %w", err)
	}
	if len(emails) > batchSize {
		emails = emails[:batchSize]
	}

	out := agent.Outcome{ActionsTaken: []string{}}
	drafts := map[string]string{}
	for _, e := range emails {
		draft, err := t.d.Assistant.DraftReply(ctx, e)
		if err != nil {
			return out, fmt.Errorf("drafting reply for %s: %w", e.ID, err)
		}
		if !draft.NeedsReply {
			if _, err := t.d.Mailbox.Archive(ctx, e.ID); err != nil {
				return out, fmt.Errorf("archiving %s: %w", e.ID, err)
			}
			out.ActionsTaken = append(out.ActionsTaken, "archived "+e.ID)
		} else {
			if _, err := t.d.Mailbox.Label(ctx, e.ID, "needs-reply"); err != nil {
				return out, fmt.Errorf("labeling %s: %w", e.ID, err)
			}
			drafts[e.ID] = draft.Draft
			out.ActionsTaken = append(out.ActionsTaken, "drafted reply for "+e.ID)
		}
		out.EmailsProcessed++
	}
	if len(drafts) > 0 {
		out.Data = map[string]any{"drafts": drafts}
	}
	return out, nil
}
