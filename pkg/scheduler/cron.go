// Package scheduler wraps robfig/cron with an owned start/stop lifecycle so
// background jobs are tied to process startup and shutdown instead of living
// as ambient globals.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron runs recurring jobs with panic recovery.
type Cron struct {
	c *cron.Cron
}

// New creates a scheduler in the local time zone.
func New() *Cron {
	return &Cron{c: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))}
}

// AddEvery schedules fn to run at the given fixed interval.
func (cr *Cron) AddEvery(interval time.Duration, fn func(ctx context.Context)) (cron.EntryID, error) {
	return cr.c.AddFunc(fmt.Sprintf("@every %s", interval), func() { fn(context.Background()) })
}

// Start begins dispatching scheduled jobs.
func (cr *Cron) Start() { cr.c.Start() }

// Stop halts scheduling and waits for running jobs to finish.
func (cr *Cron) Stop() {
	ctx := cr.c.Stop()
	<-ctx.Done()
}
