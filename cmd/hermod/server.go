package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/ai"
	"github.com/hermod-ai/hermod/internal/api"
	"github.com/hermod-ai/hermod/internal/config"
	"github.com/hermod-ai/hermod/internal/learning"
	"github.com/hermod-ai/hermod/internal/mail"
	"github.com/hermod-ai/hermod/internal/scheduler"
	"github.com/hermod-ai/hermod/internal/storage"
	"github.com/hermod-ai/hermod/internal/tasks"
)

const directorAgentID = "director"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hermod server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running hermod server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hermod system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hermod.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "hermod version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start when an instance is already serving this port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("hermod is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("hermod is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	assistant := ai.NewOllamaAssistant(cfg.AI.OllamaURL, cfg.AI.ChatModel)
	if !assistant.Ping(ctx) {
		logger.Warn("ollama not reachable, agent runs will fail until it is up",
			"url", cfg.AI.OllamaURL)
	}

	mailboxPath := cfg.Mail.MailboxPath
	if mailboxPath == "" {
		mailboxPath = filepath.Join(cfg.Storage.DataDir, "mailbox.json")
	}
	mailbox, err := mail.NewLocal(mailboxPath)
	if err != nil {
		return fmt.Errorf("opening mailbox: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	registry := agent.NewRegistry()
	lm := learning.NewManager(store, registry, assistant, logger)
	if err := tasks.Register(registry, tasks.Deps{
		Mailbox:   mailbox,
		Assistant: assistant,
		Store:     store,
		Registry:  registry,
		Proposer:  lm,
		Logger:    logger,
	}); err != nil {
		return fmt.Errorf("registering agents: %w", err)
	}

	if err := restoreAgentState(store, registry, logger); err != nil {
		return fmt.Errorf("restoring agent state: %w", err)
	}

	executor := scheduler.NewExecutor(registry, store, lm, cfg.Scheduler.ExecutionTimeout, logger)
	sched := scheduler.New(registry, executor, lm, store, scheduler.Options{
		Tick:          cfg.Scheduler.TickInterval,
		DirectorEvery: int64(cfg.Scheduler.DirectorEvery),
		DirectorID:    directorAgentID,
	}, logger)

	apiDeps := api.Deps{
		Store:     store,
		Registry:  registry,
		Scheduler: sched,
		Learning:  lm,
		Token:     apiToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(apiDeps),
	}
	stdioSrv := server.NewStdioServer(api.NewMCPServer(apiDeps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("control API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// stdio transport; exits when the context is cancelled.
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// restoreAgentState reconciles the registry with persisted runtime state:
// known agents get their enabled flag, schedule, and last-run restored; new
// agents get a state row and their version-1 config seeded.
func restoreAgentState(store *storage.Store, registry *agent.Registry, logger *slog.Logger) error {
	persisted, err := store.ListAgentStates()
	if err != nil {
		return err
	}

	for _, id := range registry.IDs() {
		def, _ := registry.Get(id)

		if st, ok := persisted[id]; ok {
			restored := agent.State{
				Enabled:         st.Enabled,
				Schedule:        def.Schedule,
				LastSuccess:     st.LastSuccess,
				LastExecutionMS: st.LastExecutionMS,
			}
			if st.LastRunAt != nil {
				restored.LastRunAt = *st.LastRunAt
			}
			var sched agent.Schedule
			if err := json.Unmarshal([]byte(st.ScheduleJSON), &sched); err != nil || sched.Validate() != nil {
				logger.Warn("malformed persisted schedule, keeping default", "agent", id)
			} else {
				restored.Schedule = sched
			}
			registry.Restore(id, restored)
		} else {
			scheduleJSON, err := json.Marshal(def.Schedule)
			if err != nil {
				return err
			}
			if err := store.UpsertAgentState(storage.AgentState{
				AgentID:      id,
				Enabled:      true,
				ScheduleJSON: string(scheduleJSON),
			}); err != nil {
				return err
			}
		}

		if _, err := store.EnsureConfig(id, def.Defaults); err != nil {
			return fmt.Errorf("seeding config for %s: %w", id, err)
		}
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("hermod is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop hermod (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to hermod (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	healthy := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			healthy = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	assistant := ai.NewOllamaAssistant(cfg.AI.OllamaURL, cfg.AI.ChatModel)
	if assistant.Ping(ctx) {
		printStatus("Ollama", "running at %s", cfg.AI.OllamaURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Chat model", "%s", cfg.AI.ChatModel)

	if healthy {
		if c, err := newAPIClient(); err == nil {
			if statusResp, err := c.get(ctx, "/scheduler/status"); err == nil {
				var st struct {
					TickSeconds     int `json:"tick_seconds"`
					TotalExecutions int `json:"total_executions"`
					Jobs            []struct {
						Enabled bool `json:"enabled"`
					} `json:"jobs"`
				}
				if decodeJSON(statusResp, &st) == nil {
					enabled := 0
					for _, j := range st.Jobs {
						if j.Enabled {
							enabled++
						}
					}
					printStatus("Scheduler", "tick %ds, %d/%d agents enabled", st.TickSeconds, enabled, len(st.Jobs))
					printStatus("Executions", "%d recorded", st.TotalExecutions)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
