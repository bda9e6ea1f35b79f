package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// agentStatus mirrors the /agents response rows.
type agentStatus struct {
	AgentID         string     `json:"agent_id"`
	DisplayName     string     `json:"display_name"`
	Enabled         bool       `json:"enabled"`
	Schedule        any        `json:"schedule"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastSuccess     *bool      `json:"last_success,omitempty"`
	LastExecutionMS *int64     `json:"last_execution_ms,omitempty"`
}

// executionRow mirrors the /executions response rows.
type executionRow struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	ConfigVersion   int       `json:"config_version"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	EmailsProcessed int       `json:"emails_processed"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	ActionsTaken    []string  `json:"actions_taken"`
}

// auditRow mirrors the /audit response rows.
type auditRow struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	VersionBefore   int       `json:"version_before"`
	VersionAfter    int       `json:"version_after"`
	FieldChanged    string    `json:"field_changed"`
	OldValue        any       `json:"old_value"`
	NewValue        any       `json:"new_value"`
	ProposedBy      string    `json:"proposed_by"`
	Reason          string    `json:"reason"`
	Approved        bool      `json:"approved"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// --- agents ---

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and manage the agent roster",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/agents")
		if err != nil {
			return err
		}

		var agents []agentStatus
		if err := decodeJSON(resp, &agents); err != nil {
			return err
		}

		for _, a := range agents {
			state := colorize(colorGreen, "enabled")
			if !a.Enabled {
				state = colorize(colorYellow, "disabled")
			}
			lastRun := "never"
			if a.LastRunAt != nil {
				lastRun = a.LastRunAt.Local().Format("2006-01-02 15:04")
				if a.LastSuccess != nil && !*a.LastSuccess {
					lastRun += " " + colorize(colorRed, "(failed)")
				}
			}
			fmt.Printf("%-14s %-9s last run: %s\n", colorize(colorBold, a.AgentID), state, lastRun)
		}
		return nil
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Show one agent with its config and recent activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/agents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var detail any
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

func setEnabled(cmd *cobra.Command, agentID string, enabled bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	action := "disable"
	if enabled {
		action = "enable"
	}
	resp, err := client.post(cmd.Context(), "/agents/"+url.PathEscape(agentID)+"/"+action, nil)
	if err != nil {
		return err
	}

	var result struct {
		Changed bool `json:"changed"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if result.Changed {
		printSuccess("Agent %s %sd", agentID, action)
	} else {
		printSuccess("Agent %s already %sd", agentID, action)
	}
	return nil
}

var agentsEnableCmd = &cobra.Command{
	Use:   "enable <agent>",
	Short: "Enable an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var agentsDisableCmd = &cobra.Command{
	Use:   "disable <agent>",
	Short: "Disable an agent (it keeps its schedule but never fires)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
	agentsCmd.AddCommand(agentsEnableCmd)
	agentsCmd.AddCommand(agentsDisableCmd)
}

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger <agent>",
	Short: "Run an agent immediately, outside its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/agents/"+url.PathEscape(args[0])+"/trigger", nil)
		if err != nil {
			return err
		}

		var rec executionRow
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		if rec.Success {
			printSuccess("Execution %d completed: %d emails, %dms", rec.ID, rec.EmailsProcessed, rec.ExecutionTimeMS)
		} else {
			printError("Execution %d failed: %s", rec.ID, rec.Error)
		}
		for _, action := range rec.ActionsTaken {
			fmt.Printf("  - %s\n", action)
		}
		return nil
	},
}

// --- executions ---

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List recent executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if agentID != "" {
			q.Set("agent", agentID)
		}
		q.Set("limit", strconv.Itoa(limit))
		resp, err := client.get(cmd.Context(), "/executions?"+q.Encode())
		if err != nil {
			return err
		}

		var executions []executionRow
		if err := decodeJSON(resp, &executions); err != nil {
			return err
		}

		if len(executions) == 0 {
			fmt.Println("No executions recorded.")
			return nil
		}

		for _, e := range executions {
			status := colorize(colorGreen, "ok")
			if !e.Success {
				status = colorize(colorRed, "failed")
			}
			fmt.Printf("%s  %-14s %-7s v%-3d %3d emails %6dms",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.AgentID, status, e.ConfigVersion, e.EmailsProcessed, e.ExecutionTimeMS)
			fmt.Printf("  #%d\n", e.ID)
			if e.Error != "" {
				fmt.Printf("    %s\n", colorize(colorRed, e.Error))
			}
		}
		return nil
	},
}

func init() {
	executionsCmd.Flags().String("agent", "", "filter to one agent")
	executionsCmd.Flags().Int("limit", 20, "maximum number of executions")
}

// --- audit ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List the config-change audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if agentID != "" {
			q.Set("agent", agentID)
		}
		q.Set("limit", strconv.Itoa(limit))
		resp, err := client.get(cmd.Context(), "/audit?"+q.Encode())
		if err != nil {
			return err
		}

		var entries []auditRow
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No proposals recorded.")
			return nil
		}

		for _, a := range entries {
			verdict := colorize(colorGreen, "approved")
			if !a.Approved {
				verdict = colorize(colorYellow, "rejected")
			}
			fmt.Printf("%s  %-14s %s %s: %v -> %v (by %s)\n",
				a.Timestamp.Local().Format("2006-01-02 15:04:05"),
				a.AgentID, verdict, a.FieldChanged, a.OldValue, a.NewValue, a.ProposedBy)
			if a.RejectionReason != "" {
				fmt.Printf("    %s\n", a.RejectionReason)
			}
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().String("agent", "", "filter to one agent")
	auditCmd.Flags().Int("limit", 20, "maximum number of entries")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <execution-id> <up|down>",
	Short: "Record thumbs up or down for an execution",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		execID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid execution id %q", args[0])
		}
		var feedbackType string
		switch args[1] {
		case "up", "thumbs_up":
			feedbackType = "thumbs_up"
		case "down", "thumbs_down":
			feedbackType = "thumbs_down"
		default:
			return fmt.Errorf("feedback must be up or down, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/feedback", map[string]any{
			"execution_id": execID,
			"type":         feedbackType,
		})
		if err != nil {
			return err
		}

		var fb struct {
			ID      string `json:"id"`
			AgentID string `json:"agent_id"`
		}
		if err := decodeJSON(resp, &fb); err != nil {
			return err
		}

		printSuccess("Recorded %s for execution %d (agent %s)", feedbackType, execID, fb.AgentID)
		return nil
	},
}

// --- propose ---

var proposeCmd = &cobra.Command{
	Use:   "propose <agent> <field> <value>",
	Short: "Propose a config change; the guardrail engine decides",
	Long: `Propose a single-field config change for an agent. The value is parsed
as JSON when possible, otherwise taken as a string.

Examples:
  hermod propose triage max_emails 50 --reason "inbox volume doubled"
  hermod propose briefing schedule '{"kind":"cron","hour":8,"minute":0}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			value = args[2]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/proposals", map[string]any{
			"agent_id":  args[0],
			"field":     args[1],
			"new_value": value,
			"reason":    reason,
		})
		if err != nil {
			return err
		}

		var audit auditRow
		if err := decodeJSON(resp, &audit); err != nil {
			return err
		}

		if audit.Approved {
			printSuccess("Applied: %s.%s = %v (config v%d)", audit.AgentID, audit.FieldChanged, audit.NewValue, audit.VersionAfter)
		} else {
			printWarning("Rejected: %s", audit.RejectionReason)
		}
		return nil
	},
}

func init() {
	proposeCmd.Flags().String("reason", "", "why the change is wanted")
}
