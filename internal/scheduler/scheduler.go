// Package scheduler provides the cron-based trigger surface for HiveFeed.
//
// It drives the periodic passes that the engine exposes: the cadence
// tick that enqueues due agent cycles, the off-peak buffer fill, and
// the buffer expiry sweep. The scheduler never executes work itself;
// work runs through the durable job loop.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based trigger scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddNamedJob schedules a task and logs each firing under the given
// name, for passes whose cadence matters operationally.
func (s *Scheduler) AddNamedJob(name, expr string, task func()) error {
	return s.AddJob(expr, func() {
		slog.Debug("Scheduler: firing", "job", name, "expr", expr)
		task()
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
