// Package config loads process configuration from the environment, with an
// optional .env file for local setups. All variables are HERMOD_* prefixed
// and every value has a sensible default; nothing is required to start.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	AI        AIConfig
	Mail      MailConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type SchedulerConfig struct {
	TickInterval     time.Duration
	ExecutionTimeout time.Duration
	DirectorEvery    int
}

type AIConfig struct {
	OllamaURL string
	ChatModel string
}

type MailConfig struct {
	// MailboxPath is the JSON mailbox file. Empty means <data dir>/mailbox.json.
	MailboxPath string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4600},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Scheduler: SchedulerConfig{
			TickInterval:     30 * time.Second,
			ExecutionTimeout: 5 * time.Minute,
			DirectorEvery:    10,
		},
		AI: AIConfig{
			OllamaURL: "http://localhost:11434",
			ChatModel: "llama3.2",
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "hermod-data"
		}
	}
	return filepath.Join(dir, "hermod")
}

// Load builds the configuration: defaults, then a .env file if present,
// then process environment variables (which win either way, since godotenv
// never overwrites variables that are already set).
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv(defaults())
}

func fromEnv(cfg Config) (Config, error) {
	var err error
	if cfg.Server.Port, err = envInt("HERMOD_SERVER_PORT", cfg.Server.Port); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("HERMOD_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if cfg.Scheduler.TickInterval, err = envDuration("HERMOD_TICK_INTERVAL", cfg.Scheduler.TickInterval); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.ExecutionTimeout, err = envDuration("HERMOD_EXECUTION_TIMEOUT", cfg.Scheduler.ExecutionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.DirectorEvery, err = envInt("HERMOD_DIRECTOR_EVERY", cfg.Scheduler.DirectorEvery); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("HERMOD_OLLAMA_URL"); v != "" {
		cfg.AI.OllamaURL = v
	}
	if v := os.Getenv("HERMOD_CHAT_MODEL"); v != "" {
		cfg.AI.ChatModel = v
	}
	if v := os.Getenv("HERMOD_MAILBOX"); v != "" {
		cfg.Mail.MailboxPath = v
	}
	if v := os.Getenv("HERMOD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Scheduler.TickInterval < time.Second {
		return Config{}, fmt.Errorf("tick interval %s is too small", cfg.Scheduler.TickInterval)
	}
	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// SlogLevel maps the configured level string to a slog level, defaulting
// to info on anything unrecognized.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
