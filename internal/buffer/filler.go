// Package buffer implements the off-peak content buffer passes: the
// fill pass that pre-generates content for agents running low, and the
// expiry sweep that bounds storage growth.
//
// Pre-filling during low-traffic hours takes generation latency off the
// scheduled-run critical path and smooths external API load across the
// day.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/store"
	"golang.org/x/time/rate"
)

// GenerateFunc is the callback that produces one unit of content for an
// agent. It is treated as opaque, slow, and fallible.
type GenerateFunc func(ctx context.Context, agent models.Agent) (models.GeneratedContent, error)

// Default filler tuning.
const (
	DefaultEntryCap        = 3
	DefaultEntryTTL        = 24 * time.Hour
	DefaultMaxAgentsPerRun = 25
)

// PerMinuteLimiter returns a limiter that smooths generation calls to
// n per minute. Non-positive n disables limiting.
func PerMinuteLimiter(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
}

// FillerStore is the persistence surface the filler needs.
type FillerStore interface {
	store.BufferRepo
	ListSchedulableAgents(limit int) ([]models.Agent, error)
}

// Filler tops up each schedulable agent's buffer of ready-to-publish
// content up to a per-agent cap, bounded per invocation so a single
// pass cannot run unboundedly long or hammer the generation API.
type Filler struct {
	store     FillerStore
	generate  GenerateFunc
	entryCap  int
	entryTTL  time.Duration
	maxAgents int
	limiter   *rate.Limiter
}

// NewFiller creates a Filler. limiter may be nil to disable rate
// smoothing of generation calls.
func NewFiller(st FillerStore, generate GenerateFunc, entryCap int, entryTTL time.Duration, maxAgents int, limiter *rate.Limiter) *Filler {
	if entryCap <= 0 {
		entryCap = DefaultEntryCap
	}
	if entryTTL <= 0 {
		entryTTL = DefaultEntryTTL
	}
	if maxAgents <= 0 {
		maxAgents = DefaultMaxAgentsPerRun
	}
	return &Filler{
		store:     st,
		generate:  generate,
		entryCap:  entryCap,
		entryTTL:  entryTTL,
		maxAgents: maxAgents,
		limiter:   limiter,
	}
}

// FillPass tops up the buffer for up to maxAgents schedulable agents,
// generating at most one entry per agent per pass. One agent's
// generation failure never aborts the pass for the others. Returns the
// number of entries created.
func (f *Filler) FillPass(ctx context.Context) (int, error) {
	agents, err := f.store.ListSchedulableAgents(f.maxAgents)
	if err != nil {
		return 0, fmt.Errorf("list schedulable agents failed: %w", err)
	}

	created := 0
	for _, agent := range agents {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		n, err := f.fillAgent(ctx, agent)
		if err != nil {
			slog.Error("Filler.FillPass: fill failed for agent", "agentID", agent.ID, "error", err)
			continue
		}
		created += n
	}
	slog.Info("Filler.FillPass: pass complete", "agents", len(agents), "created", created)
	return created, nil
}

// fillAgent creates one buffer entry for the agent if it is below its
// ready cap.
func (f *Filler) fillAgent(ctx context.Context, agent models.Agent) (int, error) {
	now := time.Now()
	ready, err := f.store.CountReadyBufferEntries(agent.ID, now)
	if err != nil {
		return 0, fmt.Errorf("count ready entries failed: %w", err)
	}
	if ready >= f.entryCap {
		slog.Debug("Filler.fillAgent: agent at cap, skipping", "agentID", agent.ID, "ready", ready)
		return 0, nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	content, err := f.generate(ctx, agent)
	if err != nil {
		return 0, fmt.Errorf("generation failed: %w", err)
	}
	if err := content.Validate(); err != nil {
		return 0, fmt.Errorf("generated content invalid: %w", err)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("marshal content failed: %w", err)
	}
	id, err := f.store.InsertBufferEntry(agent.ID, string(payload), now.Add(f.entryTTL))
	if err != nil {
		return 0, fmt.Errorf("insert buffer entry failed: %w", err)
	}
	slog.Debug("Filler.fillAgent: buffered content", "agentID", agent.ID, "entryID", id)
	return 1, nil
}

// Sweep deletes consumed entries and anything past its expiry.
func (f *Filler) Sweep(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	n, err := f.store.SweepBufferEntries(time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep failed: %w", err)
	}
	return n, nil
}
