// Package tasks holds the built-in agent roster: the task bodies and their
// default definitions. Bodies depend only on the mailbox and assistant
// boundaries, so tests drive them with fakes.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/ai"
	"github.com/hermod-ai/hermod/internal/mail"
	"github.com/hermod-ai/hermod/internal/storage"
)

// Proposer submits config-change proposals into the guardrail pipeline.
// Satisfied by learning.Manager.
type Proposer interface {
	Propose(ctx context.Context, p agent.Proposal) (storage.ConfigAudit, error)
}

// Deps are the external collaborators the task bodies share.
type Deps struct {
	Mailbox   mail.Mailbox
	Assistant ai.Assistant
	Store     *storage.Store
	Registry  *agent.Registry
	Proposer  Proposer
	Logger    *slog.Logger
}

// Roster returns the built-in agent definitions paired with their bodies,
// in registration order.
func Roster(d Deps) []struct {
	Def  agent.Definition
	Task agent.Task
} {
	return []struct {
		Def  agent.Definition
		Task agent.Task
	}{
		{
			Def: agent.Definition{
				ID:          "triage",
				DisplayName: "Email Triage",
				Capability:  agent.CapabilityTriage,
				Schedule:    agent.EveryMinutes(30),
				Defaults: agent.Values{
					"max_emails":       25,
					"batch_size":       10,
					"hours_back":       24,
					"min_confidence":   0.7,
					"priority_default": "medium",
				},
			},
			Task: &triageTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "vip-monitor",
				DisplayName: "VIP Monitor",
				Capability:  agent.CapabilityVIPMonitor,
				Schedule:    agent.EveryMinutes(15),
				Defaults: agent.Values{
					"vip_addresses":  []string{},
					"alert_on_count": 1,
					"hours_back":     4,
					"max_emails":     50,
				},
			},
			Task: &vipMonitorTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "briefing",
				DisplayName: "Morning Briefing",
				Capability:  agent.CapabilityBriefing,
				Schedule:    agent.DailyAt(7, 30),
				Defaults: agent.Values{
					"hours_back": 24,
					"max_emails": 50,
				},
			},
			Task: &briefingTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "cleanup",
				DisplayName: "Inbox Cleanup",
				Capability:  agent.CapabilityCleanup,
				Schedule:    agent.EveryMinutes(60),
				Defaults: agent.Values{
					"archive_threshold_days": 30,
					"batch_size":             25,
					"max_emails":             100,
				},
			},
			Task: &cleanupTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "inbox-zero",
				DisplayName: "Inbox Zero",
				Capability:  agent.CapabilityInboxZero,
				Schedule:    agent.EveryMinutes(120),
				Defaults: agent.Values{
					"max_emails": 50,
					"batch_size": 20,
					"hours_back": 48,
				},
			},
			Task: &inboxZeroTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "digest",
				DisplayName: "Weekly Digest",
				Capability:  agent.CapabilityDigest,
				Schedule:    agent.WeeklyAt(time.Friday, 16, 0),
				Defaults: agent.Values{
					"hours_back": 168,
					"max_emails": 100,
				},
			},
			Task: &digestTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "voice",
				DisplayName: "Voice Commands",
				Capability:  agent.CapabilityVoice,
				Schedule:    agent.Manual(),
				Defaults: agent.Values{
					"max_emails": 10,
				},
			},
			Task: &voiceTask{d},
		},
		{
			Def: agent.Definition{
				ID:          "director",
				DisplayName: "Director",
				Capability:  agent.CapabilityDirector,
				Schedule:    agent.Manual(),
				Defaults: agent.Values{
					"review_every": 10,
				},
			},
			Task: &directorTask{d},
		},
	}
}

// Register installs the full roster into the registry.
func Register(registry *agent.Registry, d Deps) error {
	for _, item := range Roster(d) {
		if err := registry.Register(item.Def, item.Task); err != nil {
			return err
		}
	}
	return nil
}
