// Package scheduler runs jobs on cron schedules
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"octopus/internal/logger"
)

// DefaultJobTimeout bounds a single job run
const DefaultJobTimeout = 30 * time.Minute

// Job is a scheduled task
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// Scheduler manages periodic jobs in one timezone. A job never overlaps
// with its own previous run.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	timeout time.Duration
	base    context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	log     *slog.Logger
}

// New creates a scheduler for timezone, such as "UTC" or "America/Los_Angeles"
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	log := logger.Get()
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:    make(map[string]cron.EntryID),
		timeout: DefaultJobTimeout,
		base:    base,
		cancel:  cancel,
		log:     log,
	}, nil
}

// AddJob schedules job with a five field cron expression, for example
// "0 6 * * *" for 06:00 every day
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.log.Error("Scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	s.log.Info("Scheduled job", "job", name, "schedule", schedule)
	return nil
}

// RunNow executes job immediately with the same timeout as a scheduled run
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()

	s.log.Info("Starting job", "job", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		return err
	}
	s.log.Info("Job completed", "job", name, "duration", time.Since(start).String())
	return nil
}

// Jobs returns the scheduled jobs with their next and previous run times
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
	}
	return infos
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
}
