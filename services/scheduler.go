// services/scheduler.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// CronExpiryScheduler runs session expiry deadlines as gocron one-time jobs.
type CronExpiryScheduler struct {
	sched gocron.Scheduler
}

func NewCronExpiryScheduler(clock clockwork.Clock) (*CronExpiryScheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	sched.Start()
	return &CronExpiryScheduler{sched: sched}, nil
}

// Schedule registers task to run once at the given time.
func (c *CronExpiryScheduler) Schedule(name string, at time.Time, task func()) (func(), error) {
	job, err := c.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}

	id := job.ID()
	return func() {
		if err := c.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.Printf("[Scheduler] Failed to cancel %s: %v", name, err)
		}
	}, nil
}

// Pending is the number of armed deadlines.
func (c *CronExpiryScheduler) Pending() int {
	return len(c.sched.Jobs())
}

// Shutdown stops the scheduler; pending deadlines never fire.
func (c *CronExpiryScheduler) Shutdown() error {
	return c.sched.Shutdown()
}
