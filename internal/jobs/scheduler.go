package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the jobs on their cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers both jobs. Schedules use the standard five-field
// cron syntax.
func NewScheduler(runner *Runner, reminderSchedule, digestSchedule string) (*Scheduler, error) {
	c := cron.New()
	for name, spec := range map[string]string{
		AppointmentReminder: reminderSchedule,
		AdviceDigest:        digestSchedule,
	} {
		name := name
		if _, err := c.AddFunc(spec, func() {
			_ = runner.Run(context.Background(), name)
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
