package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job is a named recurring task.
type Job struct {
	Name     string
	Schedule string // cron expression or descriptor such as @every 1h
	Timeout  time.Duration
	Run      JobFunc

	LastRun *time.Time
	LastErr error
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// AddJob schedules job, replacing any job with the same name.
func (s *Scheduler) AddJob(job *Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.Name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.Name)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.entries[job.Name] = entryID
	s.jobs[job.Name] = job

	s.logger.Info("scheduled job", "job_name", job.Name, "schedule", job.Schedule)
	return nil
}

func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
		delete(s.jobs, name)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.RLock()
	s.logger.Info("scheduler started", "jobs_count", len(s.entries))
	s.mu.RUnlock()
}

// Stop stops scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunJobNow runs the named job synchronously.
func (s *Scheduler) RunJobNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.executeJob(job)
}

// GetNextRuns returns the next count run times of the named job.
func (s *Scheduler) GetNextRuns(name string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	next := entry.Next
	if next.IsZero() {
		next = entry.Schedule.Next(time.Now())
	}
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}
	return runs
}

func (s *Scheduler) executeJob(job *Job) error {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	s.logger.Info("executing job", "job_name", job.Name)

	err := job.Run(ctx)

	s.mu.Lock()
	job.LastRun = &startTime
	job.LastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job execution failed",
			"job_name", job.Name,
			"error", err,
			"duration", time.Since(startTime))
		return err
	}
	s.logger.Info("job execution completed",
		"job_name", job.Name,
		"duration", time.Since(startTime))
	return nil
}
