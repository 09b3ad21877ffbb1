// Package api wires the HiveFeed engine together and exposes the
// administrative HTTP surface.
//
// Run is the composition root: it opens the store, builds the
// generation clients, starts the job runner and cron triggers, and
// serves the admin API until the process is signalled to stop.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivefeed/hivefeed/internal/buffer"
	"github.com/hivefeed/hivefeed/internal/cadence"
	"github.com/hivefeed/hivefeed/internal/genai"
	"github.com/hivefeed/hivefeed/internal/jobs"
	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/scheduler"
	"github.com/hivefeed/hivefeed/internal/store"
)

// Database driver names accepted by Run.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Default run configuration.
const (
	defaultAddr = ":8080"
	// defaultTickCron fires the cadence tick every minute.
	defaultTickCron = "* * * * *"
	// defaultFillCron runs the buffer fill pass off-peak, nightly.
	defaultFillCron = "30 3 * * *"
	// defaultSweepCron clears consumed and expired buffer entries after
	// the fill pass.
	defaultSweepCron = "0 5 * * *"
	// defaultTickLimit bounds how many due agents one tick enqueues.
	defaultTickLimit = 100
	// defaultGenPerMinute smooths buffer-fill generation calls.
	defaultGenPerMinute = 6
	shutdownTimeout     = 10 * time.Second
)

// Opts holds configuration options for the engine run.
type Opts struct {
	Addr             string
	DBDriver         string
	PollInterval     time.Duration
	ClaimLimit       int
	TickCron         string
	FillCron         string
	SweepCron        string
	BufferCap        int
	BufferTTL        time.Duration
	MaxAgentsPerFill int
	GenPerMinute     int
	RandSeed         int64
}

// Option defines a functional option for engine configuration.
type Option func(*Opts)

// WithAddr sets the admin API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDBDriver selects the store backend ("sqlite3" or "postgres").
func WithDBDriver(driver string) Option {
	return func(o *Opts) { o.DBDriver = driver }
}

// WithPollInterval sets the job runner poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithClaimLimit sets how many jobs the runner claims per poll.
func WithClaimLimit(n int) Option {
	return func(o *Opts) { o.ClaimLimit = n }
}

// WithTickCron sets the cadence tick cron expression.
func WithTickCron(expr string) Option {
	return func(o *Opts) { o.TickCron = expr }
}

// WithFillCron sets the buffer fill pass cron expression.
func WithFillCron(expr string) Option {
	return func(o *Opts) { o.FillCron = expr }
}

// WithSweepCron sets the buffer expiry sweep cron expression.
func WithSweepCron(expr string) Option {
	return func(o *Opts) { o.SweepCron = expr }
}

// WithBufferCap sets the per-agent ready buffer entry cap.
func WithBufferCap(n int) Option {
	return func(o *Opts) { o.BufferCap = n }
}

// WithBufferTTL sets the buffer entry time-to-live.
func WithBufferTTL(d time.Duration) Option {
	return func(o *Opts) { o.BufferTTL = d }
}

// WithMaxAgentsPerFill bounds how many agents one fill pass visits.
func WithMaxAgentsPerFill(n int) Option {
	return func(o *Opts) { o.MaxAgentsPerFill = n }
}

// WithGenPerMinute sets the buffer fill generation rate limit.
func WithGenPerMinute(n int) Option {
	return func(o *Opts) { o.GenPerMinute = n }
}

// WithRandSeed seeds the cadence planner's random source. Zero means
// seed from the clock; fixed seeds are for reproducing schedules.
func WithRandSeed(seed int64) Option {
	return func(o *Opts) { o.RandSeed = seed }
}

// Run starts the engine: store, job runner, cron triggers, and admin
// HTTP server. It blocks until SIGINT/SIGTERM, then shuts down
// gracefully. Store and genai options are forwarded to their packages.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts ...Option) error {
	cfg := Opts{
		Addr:         defaultAddr,
		DBDriver:     DriverSQLite,
		TickCron:     defaultTickCron,
		FillCron:     defaultFillCron,
		SweepCron:    defaultSweepCron,
		GenPerMinute: defaultGenPerMinute,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := openStore(cfg.DBDriver, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Run: store close error", "error", err)
		}
	}()

	genClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}

	seed := cfg.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	planner := cadence.NewPlanner(seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := store.NewJobRunner(st, cfg.PollInterval)
	if cfg.ClaimLimit > 0 {
		runner.SetClaimLimit(cfg.ClaimLimit)
	}
	jobs.RegisterJobHandlers(runner, jobs.Deps{
		Store:     st,
		Generator: genClient,
		Moderator: genClient,
		Planner:   planner,
	})
	if err := runner.RecoverStaleJobs(); err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	go runner.Run(ctx)

	filler := newFiller(st, genClient, cfg)
	sched := scheduler.NewScheduler()
	defer sched.Stop()

	if err := sched.AddNamedJob("cadence-tick", cfg.TickCron, func() {
		if _, err := jobs.EnqueueDueAgentCycles(st, defaultTickLimit); err != nil {
			slog.Error("Run: cadence tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cadence tick: %w", err)
	}
	if err := sched.AddNamedJob("buffer-fill", cfg.FillCron, func() {
		if _, err := filler.FillPass(ctx); err != nil {
			slog.Error("Run: buffer fill pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule buffer fill: %w", err)
	}
	if err := sched.AddNamedJob("buffer-sweep", cfg.SweepCron, func() {
		n, err := filler.Sweep(ctx)
		if err != nil {
			slog.Error("Run: buffer sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Run: buffer sweep done", "deleted", n)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule buffer sweep: %w", err)
	}

	server := NewServer(st, planner)
	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Run: admin API listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("admin API server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: HTTP shutdown error", "error", err)
	}
	return nil
}

// openStore opens the backend selected by driver.
func openStore(driver string, opts []store.Option) (store.Store, error) {
	switch driver {
	case DriverSQLite:
		return store.NewSQLiteStore(opts...)
	case DriverPostgres:
		return store.NewPostgresStore(opts...)
	default:
		return nil, fmt.Errorf("unknown database driver: %q", driver)
	}
}

// newFiller builds the buffer filler around the generation client.
func newFiller(st store.Store, gen *genai.Client, cfg Opts) *buffer.Filler {
	limiter := buffer.PerMinuteLimiter(cfg.GenPerMinute)
	generate := func(ctx context.Context, agent models.Agent) (models.GeneratedContent, error) {
		return gen.GeneratePost(ctx, agent, "")
	}
	return buffer.NewFiller(st, generate, cfg.BufferCap, cfg.BufferTTL, cfg.MaxAgentsPerFill, limiter)
}
