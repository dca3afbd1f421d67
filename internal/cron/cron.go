// Package cron provides the cron.scheduler module: periodic background
// jobs such as WAL checkpoints and orphaned-screenshot sweeps. Modules
// that own a job resolve the scheduler service during start and register
// their jobs before the scheduler itself starts.
package cron

import "context"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g. "*/5 * * * *") or a
	// descriptor such as "@hourly" or "@every 24h".
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}
