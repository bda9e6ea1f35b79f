package tasks

import (
	"context"
	"fmt"

	"github.com/hermod-ai/hermod/internal/agent"
)

// directorTask reviews the rest of the roster. Agents whose recent success
// rate has collapsed get their interval slowed down through a regular
// guardrailed proposal; the director holds no special write access.
type directorTask struct {
	d Deps
}

// Agents below this success rate over the review window get backed off.
const directorBackoffBelow = 0.5

func (t *directorTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	out := agent.Outcome{ActionsTaken: []string{}}

	for _, id := range t.d.Registry.IDs() {
		def, ok := t.d.Registry.Get(id)
		if !ok || def.Capability == agent.CapabilityDirector {
			continue
		}
		st, ok := t.d.Registry.StateOf(id)
		if !ok || !st.Enabled || st.Schedule.Kind != agent.ScheduleInterval {
			continue
		}

		rate, total, err := t.successRate(id)
		if err != nil {
			return out, fmt.Errorf("reviewing %s: %w", id, err)
		}
		out.ActionsTaken = append(out.ActionsTaken,
			fmt.Sprintf("reviewed %s: %.0f%% success over %d runs", id, rate*100, total))
		if total == 0 || rate >= directorBackoffBelow {
			continue
		}

		slowed := st.Schedule.Minutes * 2
		audit, err := t.d.Proposer.Propose(ctx, agent.Proposal{
			AgentID:    id,
			Field:      "schedule",
			NewValue:   agent.EveryMinutes(slowed),
			Reason:     fmt.Sprintf("success rate %.0f%% over last %d runs, backing off", rate*100, total),
			ProposedBy: agent.ProposerDirector,
		})
		if err != nil {
			return out, fmt.Errorf("proposing backoff for %s: %w", id, err)
		}
		if audit.Approved {
			out.ActionsTaken = append(out.ActionsTaken,
				fmt.Sprintf("slowed %s to every %dm", id, slowed))
		} else {
			out.ActionsTaken = append(out.ActionsTaken,
				fmt.Sprintf("backoff for %s rejected: %s", id, audit.RejectionReason))
		}
	}
	return out, nil
}

func (t *directorTask) successRate(agentID string) (float64, int, error) {
	rows, err := t.d.Store.MetricsSince(agentID, 7)
	if err != nil {
		return 0, 0, err
	}
	total, succeeded := 0, 0
	for _, r := range rows {
		total += r.TotalExecutions
		succeeded += r.Successful
	}
	if total == 0 {
		return 1.0, 0, nil
	}
	return float64(succeeded) / float64(total), total, nil
}
