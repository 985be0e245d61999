// Package scheduler computes job run times and dispatches due jobs on a
// periodic tick.
package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
)

// JobSource returns the enabled jobs due at or before now
type JobSource interface {
	DueJobs(now time.Time) ([]metadata.Job, error)
}

// Dispatcher hands a job to the execution pipeline without blocking
type Dispatcher interface {
	Dispatch(jobID string)
}

// Scheduler ticks on a cron schedule and dispatches due jobs
type Scheduler struct {
	cronScheduler *cron.Cron
	jobs          JobSource
	dispatcher    Dispatcher
	tickSchedule  string
	now           func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.AppConfig, jobs JobSource, dispatcher Dispatcher) *Scheduler {
	logger := cron.DefaultLogger
	return &Scheduler{
		cronScheduler: cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		jobs:          jobs,
		dispatcher:    dispatcher,
		tickSchedule:  cfg.Scheduler.TickSchedule,
		now:           time.Now,
	}
}

// Start registers the tick and begins running it
func (s *Scheduler) Start() error {
	if _, err := s.cronScheduler.AddFunc(s.tickSchedule, s.Tick); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", s.tickSchedule, err)
	}
	s.cronScheduler.Start()
	log.Printf("Backup scheduler started with tick %s", s.tickSchedule)
	return nil
}

// Stop halts the tick and waits for a running tick to return
func (s *Scheduler) Stop() {
	ctx := s.cronScheduler.Stop()
	<-ctx.Done()
	log.Println("Backup scheduler stopped")
}

// Tick dispatches every due job. It never panics.
func (s *Scheduler) Tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: tick panicked: %v", r)
		}
	}()

	metrics.SchedulerTicks.Inc()
	due, err := s.jobs.DueJobs(s.now())
	if err != nil {
		log.Printf("scheduler: loading due jobs: %v", err)
		return
	}
	metrics.SchedulerDueJobs.Set(float64(len(due)))

	for _, job := range due {
		log.Printf("scheduler: job %s (%s) is due (next run %s)", job.Name, job.ID, job.NextRun.Format(time.RFC3339))
		s.dispatcher.Dispatch(job.ID)
	}
}
