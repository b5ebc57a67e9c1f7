package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/altafino/fetch-attach/internal/config"
	"github.com/altafino/fetch-attach/internal/scheduler"
	"github.com/altafino/fetch-attach/internal/types"
)

// App runs the profiles on their schedules and follows configuration changes
type App struct {
	logger    *slog.Logger
	configs   *config.Store
	runner    *Runner
	scheduler *scheduler.Scheduler
	configID  string
	watcher   *config.Watcher
	wg        sync.WaitGroup
}

// New creates a new application instance. With configID set only that
// profile is scheduled.
func New(logger *slog.Logger, configs *config.Store, runner *Runner, configID string) (*App, error) {
	if configID != "" {
		if _, err := configs.Get(configID); err != nil {
			return nil, err
		}
	}

	a := &App{
		logger:   logger,
		configs:  configs,
		runner:   runner,
		configID: configID,
	}
	a.scheduler = scheduler.NewScheduler(logger, a.runJob)
	return a, nil
}

// Start starts all application services
func (a *App) Start() error {
	watcher, err := config.Watch(a.configs, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	a.watcher = watcher

	if err := a.scheduler.Sync(a.profiles()); err != nil {
		a.logger.Warn("some profiles could not be scheduled", "error", err)
	}
	a.scheduler.Start()

	a.wg.Add(1)
	go a.watchConfigs()
	return nil
}

// Stop gracefully stops all application services
func (a *App) Stop() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.scheduler.Stop()
	a.wg.Wait()
}

func (a *App) profiles() []*types.Config {
	if a.configID == "" {
		return a.configs.Enabled()
	}
	cfg, err := a.configs.Get(a.configID)
	if err != nil {
		a.logger.Error("profile no longer available", "config_id", a.configID, "error", err)
		return nil
	}
	return []*types.Config{cfg}
}

// runJob looks the profile up on every run so reloaded settings apply
func (a *App) runJob(ctx context.Context, configID string) {
	cfg, err := a.configs.Get(configID)
	if err != nil {
		a.logger.Error("scheduled profile not found", "config_id", configID, "error", err)
		return
	}
	if err := a.runner.RunAll(ctx, []*types.Config{cfg}); err != nil {
		a.logger.Error("scheduled run failed", "config_id", configID, "error", err)
	}
}

func (a *App) watchConfigs() {
	defer a.wg.Done()

	for range a.watcher.ReloadChan() {
		a.logger.Info("profiles reloaded, syncing schedules")
		if err := a.scheduler.Sync(a.profiles()); err != nil {
			a.logger.Error("failed to sync schedules", "error", err)
		}
	}
}
