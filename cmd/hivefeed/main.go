// HiveFeed runs a fleet of autonomous feed agents: durable jobs,
// personality-driven posting cadences, a pre-generated content buffer,
// and an admin HTTP API.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/hivefeed/hivefeed/internal/api"
	"github.com/hivefeed/hivefeed/internal/genai"
	"github.com/hivefeed/hivefeed/internal/store"
	"github.com/hivefeed/hivefeed/internal/util"
)

// Config holds environment-derived configuration.
type Config struct {
	DatabaseURL  string // PostgreSQL DSN; empty selects SQLite
	StateDir     string
	OpenAIAPIKey string
	OpenAIModel  string
	APIAddr      string
}

// Flags holds command-line flag values. Flags override environment.
type Flags struct {
	DBPath       string
	APIAddr      string
	PollSeconds  int
	ClaimLimit   int
	TickCron     string
	FillCron     string
	SweepCron    string
	BufferCap    int
	BufferTTLHrs int
	MaxFill      int
	GenPerMin    int
	RandSeed     int64
	Debug        bool
}

func main() {
	// Load .env if present; real environment wins over file values.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("main: could not load .env file", "error", err)
	}

	cfg := loadConfig()
	flags := parseFlags(cfg)
	initializeLogger(flags.Debug)

	storeOpts, driver, err := buildStoreOpts(cfg, flags)
	if err != nil {
		slog.Error("main: store configuration failed", "error", err)
		os.Exit(1)
	}

	var genaiOpts []genai.Option
	if cfg.OpenAIAPIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(cfg.OpenAIAPIKey))
	}
	if cfg.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.OpenAIModel))
	}

	apiOpts := []api.Option{
		api.WithAddr(flags.APIAddr),
		api.WithDBDriver(driver),
		api.WithPollInterval(time.Duration(flags.PollSeconds) * time.Second),
		api.WithClaimLimit(flags.ClaimLimit),
		api.WithTickCron(flags.TickCron),
		api.WithFillCron(flags.FillCron),
		api.WithSweepCron(flags.SweepCron),
		api.WithBufferCap(flags.BufferCap),
		api.WithBufferTTL(time.Duration(flags.BufferTTLHrs) * time.Hour),
		api.WithMaxAgentsPerFill(flags.MaxFill),
		api.WithGenPerMinute(flags.GenPerMin),
		api.WithRandSeed(flags.RandSeed),
	}

	slog.Info("main: starting HiveFeed", "driver", driver, "addr", flags.APIAddr)
	if err := api.Run(storeOpts, genaiOpts, apiOpts...); err != nil {
		slog.Error("main: engine exited with error", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration from the environment.
func loadConfig() Config {
	stateDir := os.Getenv("HIVEFEED_STATE_DIR")
	if stateDir == "" {
		stateDir = "/var/lib/hivefeed"
	}
	apiAddr := os.Getenv("HIVEFEED_API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	return Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     stateDir,
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),
		APIAddr:      apiAddr,
	}
}

// parseFlags parses command-line flags, defaulting from env-derived config.
func parseFlags(cfg Config) Flags {
	var f Flags
	flag.StringVar(&f.DBPath, "db-path", "", "SQLite database file path (default <state-dir>/hivefeed.db; ignored when DATABASE_URL is set)")
	flag.StringVar(&f.APIAddr, "addr", cfg.APIAddr, "admin API listen address")
	flag.IntVar(&f.PollSeconds, "poll-seconds", util.ParseIntEnv("HIVEFEED_POLL_SECONDS", 10), "job runner poll interval in seconds")
	flag.IntVar(&f.ClaimLimit, "claim-limit", util.ParseIntEnv("HIVEFEED_CLAIM_LIMIT", 10), "max jobs claimed per poll")
	flag.StringVar(&f.TickCron, "tick-cron", envOr("HIVEFEED_TICK_CRON", "* * * * *"), "cadence tick cron expression")
	flag.StringVar(&f.FillCron, "fill-cron", envOr("HIVEFEED_FILL_CRON", "30 3 * * *"), "buffer fill pass cron expression")
	flag.StringVar(&f.SweepCron, "sweep-cron", envOr("HIVEFEED_SWEEP_CRON", "0 5 * * *"), "buffer sweep cron expression")
	flag.IntVar(&f.BufferCap, "buffer-cap", util.ParseIntEnv("HIVEFEED_BUFFER_CAP", 3), "per-agent ready buffer entry cap")
	flag.IntVar(&f.BufferTTLHrs, "buffer-ttl-hours", util.ParseIntEnv("HIVEFEED_BUFFER_TTL_HOURS", 24), "buffer entry TTL in hours")
	flag.IntVar(&f.MaxFill, "max-fill-agents", util.ParseIntEnv("HIVEFEED_MAX_FILL_AGENTS", 25), "max agents visited per fill pass")
	flag.IntVar(&f.GenPerMin, "gen-per-minute", util.ParseIntEnv("HIVEFEED_GEN_PER_MINUTE", 6), "buffer fill generation calls per minute")
	flag.Int64Var(&f.RandSeed, "rand-seed", util.ParseInt64Env("HIVEFEED_RAND_SEED", 0), "cadence planner random seed (0 = seed from clock)")
	flag.BoolVar(&f.Debug, "debug", util.ParseBoolEnv("HIVEFEED_DEBUG", false), "enable debug logging")
	flag.Parse()
	return f
}

// buildStoreOpts selects the backend and its options: PostgreSQL when
// DATABASE_URL is set, otherwise SQLite under the state directory.
func buildStoreOpts(cfg Config, flags Flags) ([]store.Option, string, error) {
	if cfg.DatabaseURL != "" {
		return []store.Option{store.WithPostgresDSN(cfg.DatabaseURL)}, api.DriverPostgres, nil
	}

	dbPath := flags.DBPath
	if dbPath == "" {
		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
		}
		dbPath = filepath.Join(cfg.StateDir, "hivefeed.db")
	}
	return []store.Option{store.WithSQLiteDSN(dbPath)}, api.DriverSQLite, nil
}

// initializeLogger configures the default slog logger.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
