package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/altafino/fetch-attach/internal/types"
	"github.com/go-co-op/gocron"
)

// JobFunc runs one profile. It receives the profile id rather than the
// profile so it can pick up the latest version after a reload.
type JobFunc func(ctx context.Context, configID string)

type job struct {
	job        *gocron.Job
	scheduling types.Scheduling
}

// Scheduler runs one gocron job per scheduled profile
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
	run       JobFunc
	jobs      map[string]*job
	mu        sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewScheduler creates a new scheduler instance
func NewScheduler(logger *slog.Logger, run JobFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
		run:       run,
		jobs:      make(map[string]*job),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
	// A profile run still in progress when its next tick fires is not
	// started twice
	s.scheduler.SingletonModeAll()
	return s
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop cancels running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// Sync makes the scheduled jobs match cfgs: new profiles are scheduled,
// profiles whose scheduling block changed are rescheduled and profiles that
// disappeared are removed. Profiles whose scheduling is unchanged keep their
// job, so run state written back by a job does not reschedule it.
func (s *Scheduler) Sync(cfgs []*types.Config) error {
	seen := make(map[string]bool, len(cfgs))
	var firstErr error
	for _, cfg := range cfgs {
		seen[cfg.Meta.ID] = true
		if _, err := s.UpdateJob(cfg); err != nil {
			s.logger.Error("failed to update scheduler", "error", err, "config_id", cfg.Meta.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, id := range s.JobIDs() {
		if !seen[id] {
			s.RemoveJob(id)
		}
	}
	return firstErr
}

// UpdateJob creates or replaces the job of a profile. It reports whether the
// job changed.
func (s *Scheduler) UpdateJob(cfg *types.Config) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := cfg.Meta.ID
	if existing, ok := s.jobs[id]; ok {
		if existing.scheduling == cfg.Scheduling {
			return false, nil
		}
		if existing.job != nil {
			s.scheduler.RemoveByReference(existing.job)
		}
		delete(s.jobs, id)
	}

	if !cfg.Scheduling.Enabled {
		s.logger.Info("scheduling disabled for profile", "config_id", id)
		s.jobs[id] = &job{scheduling: cfg.Scheduling}
		return true, nil
	}

	var stopAt time.Time
	if cfg.Scheduling.StopAt != "" {
		t, err := time.Parse(time.RFC3339, cfg.Scheduling.StopAt)
		if err != nil {
			return false, fmt.Errorf("invalid stop time: %w", err)
		}
		if t.Before(s.now().UTC()) {
			s.logger.Warn("skipping job schedule, stop time is in the past",
				"config_id", id,
				"stop_at", cfg.Scheduling.StopAt)
			s.jobs[id] = &job{scheduling: cfg.Scheduling}
			return true, nil
		}
		stopAt = t
	}

	chain := s.scheduler.Every(cfg.Scheduling.FrequencyAmount)
	switch cfg.Scheduling.FrequencyEvery {
	case "minute":
		chain = chain.Minutes()
	case "hour":
		chain = chain.Hours()
	case "day":
		chain = chain.Days()
	case "week":
		chain = chain.Weeks()
	case "month":
		chain = chain.Months()
	default:
		return false, fmt.Errorf("invalid frequency: %s", cfg.Scheduling.FrequencyEvery)
	}

	switch {
	case cfg.Scheduling.StartNow:
		// gocron runs a new job immediately by default
	case cfg.Scheduling.StartAt != "":
		startAt, err := time.Parse(time.RFC3339, cfg.Scheduling.StartAt)
		if err != nil {
			return false, fmt.Errorf("invalid start time: %w", err)
		}
		chain = chain.StartAt(startAt)
	default:
		chain = chain.WaitForSchedule()
	}

	scheduled, err := chain.Do(s.jobFunc(id, stopAt))
	if err != nil {
		return false, fmt.Errorf("failed to schedule job: %w", err)
	}
	s.jobs[id] = &job{job: scheduled, scheduling: cfg.Scheduling}

	s.logger.Info("scheduled job updated",
		"config_id", id,
		"frequency", fmt.Sprintf("every %d %s", cfg.Scheduling.FrequencyAmount, cfg.Scheduling.FrequencyEvery),
		"start_now", cfg.Scheduling.StartNow,
		"start_at", cfg.Scheduling.StartAt,
		"stop_at", cfg.Scheduling.StopAt)
	return true, nil
}

func (s *Scheduler) jobFunc(id string, stopAt time.Time) func() {
	return func() {
		if !stopAt.IsZero() && s.now().After(stopAt) {
			s.logger.Info("stop time reached, removing job", "config_id", id)
			go s.RemoveJob(id)
			return
		}
		s.logger.Info("executing scheduled job", "config_id", id, "time", s.now().UTC())
		s.run(s.ctx, id)
	}
}

// RemoveJob removes the job of a profile
func (s *Scheduler) RemoveJob(configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.jobs[configID]; exists {
		if j.job != nil {
			s.scheduler.RemoveByReference(j.job)
		}
		delete(s.jobs, configID)
		s.logger.Info("removed scheduled job", "config_id", configID)
	}
}

// JobIDs returns the ids of the profiles known to the scheduler
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Active reports whether a profile has a live gocron job
func (s *Scheduler) Active(configID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[configID]
	return ok && j.job != nil
}
