// Package cadence computes when an agent's next content run should
// fire.
//
// The computation is pure given (agent state, outcome, now): it only
// returns a timestamp and performs no I/O. Randomness comes from an
// injected seeded source so schedules are reproducible in tests.
// Uniform intervals would make every agent post like a metronome;
// jittered spacing biased by the agent's rhythm profile keeps the
// cadence feeling authored rather than scheduled.
package cadence

import (
	"math/rand"
	"sync"
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
)

// Planner tuning.
const (
	// DefaultRetryDelay is the short horizon applied after a failed run
	// so transient failures self-heal without waiting a full cycle.
	DefaultRetryDelay = 10 * time.Minute

	// snapJitterMaxMinutes bounds the jitter added when a computed time
	// snaps forward to the start of the next active window.
	snapJitterMaxMinutes = 15

	// profileBiasChance is the probability that a candidate outside the
	// rhythm profile's preferred hours is pulled into them.
	profileBiasChance = 0.6
)

// Planner computes next-run timestamps from an injected random source.
// Safe for concurrent use.
type Planner struct {
	mu         sync.Mutex
	rng        *rand.Rand
	retryDelay time.Duration
}

// NewPlanner creates a Planner seeded with the given value.
func NewPlanner(seed int64) *Planner {
	return &Planner{
		rng:        rand.New(rand.NewSource(seed)),
		retryDelay: DefaultRetryDelay,
	}
}

// NextRunOnSuccess returns the next time the agent's content job should
// fire after a successful run. The result always falls inside the
// agent's active window and strictly after now.
func (p *Planner) NextRunOnSuccess(agent models.Agent, now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	freq := agent.PostingFrequency
	if freq < models.MinPostingFrequency {
		freq = models.MinPostingFrequency
	}

	base := windowDuration(agent.ActiveStartHour, agent.ActiveEndHour) / time.Duration(freq)
	candidate := now.Add(time.Duration(float64(base) * p.spacingFactor(agent.RhythmProfile)))

	// Pull the candidate toward the profile's preferred hours so a
	// night owl's posts cluster late and an early riser's cluster at
	// dawn, instead of spreading flat across the window.
	if hours := preferredHours(agent.RhythmProfile); len(hours) > 0 && !hourIn(candidate.Hour(), hours) {
		if p.rng.Float64() < profileBiasChance {
			if overlap := intersectHours(hours, activeHours(agent.ActiveStartHour, agent.ActiveEndHour)); len(overlap) > 0 {
				hour := overlap[p.rng.Intn(len(overlap))]
				minute := p.rng.Intn(60)
				candidate = nextAt(now, hour, minute)
			}
		}
	}

	// A time at a dead hour snaps forward to the next window start
	// rather than firing when the agent should be asleep.
	if !inWindow(candidate, agent.ActiveStartHour, agent.ActiveEndHour) {
		candidate = nextWindowStart(candidate, agent.ActiveStartHour)
		candidate = candidate.Add(time.Duration(p.rng.Intn(snapJitterMaxMinutes)) * time.Minute)
	}

	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// NextRunOnFailure returns a short retry horizon after a failed run.
func (p *Planner) NextRunOnFailure(now time.Time) time.Time {
	return now.Add(p.retryDelay)
}

// spacingFactor returns the jitter multiplier applied to the base
// posting interval. Bursty agents alternate short gaps and long gaps;
// everyone else gets non-uniform spacing in [0.6, 1.4).
func (p *Planner) spacingFactor(profile models.RhythmProfile) float64 {
	if profile == models.RhythmProfileBursty {
		if p.rng.Float64() < 0.5 {
			return 0.25
		}
		return 1.75
	}
	return 0.6 + 0.8*p.rng.Float64()
}

// preferredHours returns the profile's preferred posting hours, or nil
// when the profile carries no time-of-day bias.
func preferredHours(profile models.RhythmProfile) []int {
	switch profile {
	case models.RhythmProfileNightOwl:
		return []int{22, 23, 0, 1, 2, 3}
	case models.RhythmProfileEarlyRiser:
		return []int{5, 6, 7, 8}
	default:
		return nil
	}
}

// windowDuration returns the length of the daily active window.
// start == end means the agent is active around the clock.
func windowDuration(start, end int) time.Duration {
	hours := end - start
	if hours <= 0 {
		hours += 24
	}
	return time.Duration(hours) * time.Hour
}

// activeHours enumerates the hours inside the active window, handling
// windows that wrap midnight.
func activeHours(start, end int) []int {
	hours := make([]int, 0, 24)
	h := start
	for {
		hours = append(hours, h)
		h = (h + 1) % 24
		if h == end || len(hours) == 24 {
			break
		}
	}
	return hours
}

// inWindow reports whether t's hour falls inside the active window.
func inWindow(t time.Time, start, end int) bool {
	h := t.Hour()
	switch {
	case start == end:
		return true
	case start < end:
		return h >= start && h < end
	default: // wraps midnight
		return h >= start || h < end
	}
}

// intersectHours returns the hours present in both slices, preserving
// the order of a.
func intersectHours(a, b []int) []int {
	var out []int
	for _, h := range a {
		if hourIn(h, b) {
			out = append(out, h)
		}
	}
	return out
}

func hourIn(hour int, hours []int) bool {
	for _, h := range hours {
		if h == hour {
			return true
		}
	}
	return false
}

// nextAt returns the next occurrence of hour:minute strictly after the
// reference time.
func nextAt(after time.Time, hour, minute int) time.Time {
	t := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
	if !t.After(after) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// nextWindowStart returns the first window start at or after t.
func nextWindowStart(t time.Time, startHour int) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), startHour, 0, 0, 0, t.Location())
	if start.Before(t) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}
