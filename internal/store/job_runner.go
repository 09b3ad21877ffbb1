// Package store provides the JobRunner for executing durable jobs.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
)

// JobHandler is a function that executes a job's work. It receives the
// claimed job (agent ID and payload included) and returns an error if
// the execution failed. Wrapping the error with Permanent dead-letters
// the job instead of retrying it.
type JobHandler func(ctx context.Context, job Job) error

// AgentLookup is the narrow agent read used to void jobs whose agent
// has been deactivated between enqueue and execution.
type AgentLookup interface {
	GetAgent(id string) (*models.Agent, error)
}

// Default runner tuning.
const (
	defaultPollInterval   = 10 * time.Second
	defaultStaleThreshold = 5 * time.Minute
	defaultClaimLimit     = 10
	defaultReleaseDelay   = 30 * time.Second
)

// JobRunner periodically claims due jobs from the database and
// dispatches them to registered handlers. Multiple runners may poll the
// same store concurrently; coordination rests entirely on the atomic
// claim, not on any in-process lock.
type JobRunner struct {
	repo           JobRepo
	agents         AgentLookup
	handlers       map[string]JobHandler
	kindLimits     map[string]int
	onDeadLetter   func(ctx context.Context, job Job)
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	releaseDelay   time.Duration
}

// NewJobRunner creates a new JobRunner.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		kindLimits:     make(map[string]int),
		pollInterval:   pollInterval,
		staleThreshold: defaultStaleThreshold,
		claimLimit:     defaultClaimLimit,
		releaseDelay:   defaultReleaseDelay,
	}
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// SetKindLimit caps the number of in-flight jobs of the given kind
// across all workers. The count is taken from the store, so the cap
// holds fleet-wide, not per process. A claimed job over the cap is
// released back to pending without consuming an attempt.
func (r *JobRunner) SetKindLimit(kind string, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kindLimits[kind] = limit
	slog.Debug("JobRunner.SetKindLimit", "kind", kind, "limit", limit)
}

// SetClaimLimit sets the maximum number of jobs claimed per tick.
func (r *JobRunner) SetClaimLimit(limit int) {
	if limit > 0 {
		r.claimLimit = limit
	}
}

// SetAgentLookup wires the agent read used to void jobs whose agent has
// been deactivated. Without it, agent-scoped jobs run unconditionally.
func (r *JobRunner) SetAgentLookup(agents AgentLookup) {
	r.agents = agents
}

// SetDeadLetterHook registers a callback invoked after a job is
// dead-lettered, so the caller can advance the owning agent's schedule
// rather than letting it stall on a poisoned job.
func (r *JobRunner) SetDeadLetterHook(hook func(ctx context.Context, job Job)) {
	r.onDeadLetter = hook
}

// RecoverStaleJobs requeues jobs that were in progress when the process
// crashed. Should be called once at startup.
func (r *JobRunner) RecoverStaleJobs() error {
	staleBefore := time.Now().Add(-r.staleThreshold)
	n, err := r.repo.RequeueStaleInProgressJobs(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *JobRunner) poll(ctx context.Context) {
	now := time.Now()
	jobs, err := r.repo.ClaimDueJobs(now, r.claimLimit)
	if err != nil {
		// Infrastructure failure: skip the whole tick, retry next tick.
		slog.Error("JobRunner.poll: claim failed", "error", err)
		return
	}

	for _, job := range jobs {
		r.dispatch(ctx, job, now)
	}
}

// dispatch routes one claimed job to its handler and records exactly one
// outcome for it, whatever the handler does.
func (r *JobRunner) dispatch(ctx context.Context, job Job, now time.Time) {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	limit, capped := r.kindLimits[job.Kind]
	r.mu.RUnlock()

	if !ok {
		// Unknown kinds can never be retried productively.
		slog.Warn("JobRunner.dispatch: no handler for job kind, dead-lettering", "kind", job.Kind, "id", job.ID)
		r.deadLetter(ctx, job, "no handler registered for kind: "+job.Kind)
		return
	}

	if job.AgentID != "" && r.agents != nil {
		agent, err := r.agents.GetAgent(job.AgentID)
		if err != nil {
			slog.Error("JobRunner.dispatch: agent lookup failed", "id", job.ID, "agentID", job.AgentID, "error", err)
			r.fail(ctx, job, fmt.Errorf("agent lookup failed: %w", err), now)
			return
		}
		if agent == nil || !agent.IsScheduled {
			// The agent was deactivated after this job was enqueued:
			// void the job, this is a skip, not a failure.
			slog.Info("JobRunner.dispatch: agent not schedulable, voiding job", "id", job.ID, "kind", job.Kind, "agentID", job.AgentID)
			if err := r.repo.CancelJob(job.ID); err != nil {
				slog.Error("JobRunner.dispatch: cancel job error", "id", job.ID, "error", err)
			}
			return
		}
	}

	if capped {
		inFlight, err := r.repo.CountInProgressJobs(job.Kind)
		if err != nil {
			slog.Error("JobRunner.dispatch: in-flight count failed", "id", job.ID, "error", err)
			r.fail(ctx, job, fmt.Errorf("in-flight count failed: %w", err), now)
			return
		}
		// The claimed job itself is counted, hence > rather than >=.
		if inFlight > limit {
			slog.Debug("JobRunner.dispatch: kind at concurrency cap, releasing", "id", job.ID, "kind", job.Kind, "limit", limit)
			if err := r.repo.ReleaseJob(job.ID, now.Add(r.releaseDelay)); err != nil {
				slog.Error("JobRunner.dispatch: release job error", "id", job.ID, "error", err)
			}
			return
		}
	}

	slog.Debug("JobRunner.dispatch: executing job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := r.execute(ctx, handler, job); err != nil {
		slog.Error("JobRunner.dispatch: job execution failed", "id", job.ID, "kind", job.Kind, "error", err)
		if IsPermanent(err) {
			r.deadLetter(ctx, job, err.Error())
			return
		}
		r.fail(ctx, job, err, now)
		return
	}

	if err := r.repo.CompleteJob(job.ID); err != nil {
		slog.Error("JobRunner.dispatch: complete job error", "id", job.ID, "error", err)
	}
	slog.Debug("JobRunner.dispatch: job completed", "id", job.ID, "kind", job.Kind)
}

// execute invokes the handler, converting panics into errors so every
// claimed job resolves exactly once.
func (r *JobRunner) execute(ctx context.Context, handler JobHandler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(ctx, job)
}

// fail records a transient failure with exponential backoff, invoking
// the dead-letter hook when the attempt ceiling is reached.
func (r *JobRunner) fail(ctx context.Context, job Job, execErr error, now time.Time) {
	nextRun := now.Add(RetryBackoff(job.Attempt))
	if err := r.repo.FailJob(job.ID, execErr.Error(), nextRun); err != nil {
		slog.Error("JobRunner.fail: fail job error", "id", job.ID, "error", err)
		return
	}
	if job.Attempt+1 >= job.MaxAttempts && r.onDeadLetter != nil {
		r.onDeadLetter(ctx, job)
	}
}

// deadLetter terminally fails a job and invokes the dead-letter hook.
func (r *JobRunner) deadLetter(ctx context.Context, job Job, msg string) {
	if err := r.repo.DeadLetterJob(job.ID, msg); err != nil {
		slog.Error("JobRunner.deadLetter: dead letter job error", "id", job.ID, "error", err)
		return
	}
	if r.onDeadLetter != nil {
		r.onDeadLetter(ctx, job)
	}
}
