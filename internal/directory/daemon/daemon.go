// Package daemon keeps the directory cache in sync in the background.
//
// The daemon:
//  1. Optionally runs both passes on start
//  2. Fires group and user passes on their cron schedules
//  3. Watches the config file and applies changed credentials, quota and schedules
//  4. Runs attached services (the dashboard) for its lifetime
//  5. Shuts everything down when its context is cancelled
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thaliawww/cxdir/internal/config"
	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
)

// Service is a component whose lifetime is bound to the daemon.
type Service interface {
	Run(ctx context.Context) error
}

// Reloader re-reads configuration, applies what it can to live components
// and returns the schedules to use from now on.
type Reloader interface {
	Reload(ctx context.Context) (config.ScheduleConfig, error)
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) (config.ScheduleConfig, error)

// Reload calls f.
func (f ReloaderFunc) Reload(ctx context.Context) (config.ScheduleConfig, error) {
	return f(ctx)
}

// Config holds configuration for the daemon.
type Config struct {
	Schedule config.ScheduleConfig

	// ConfigFile is watched for changes when set together with Reloader.
	ConfigFile string
	Reloader   Reloader

	// DebounceInterval collapses bursts of config file events
	DebounceInterval time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         config.Default().Schedule,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           zap.NewNop(),
	}
}

// Daemon drives scheduled reconciliation.
type Daemon struct {
	runner   PassRunner
	config   *Config
	services []Service
	logger   *zap.Logger
	reloads  chan struct{}

	mu        sync.Mutex
	scheduler *Scheduler
}

// New creates a daemon around runner.
func New(runner PassRunner, cfg *Config, services ...Service) (*Daemon, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}

	return &Daemon{
		runner:   runner,
		config:   cfg,
		services: services,
		logger:   cfg.Logger.Named("daemon"),
		reloads:  make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is cancelled or a service fails.
// Failed passes are logged and never stop the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon")

	g, ctx := errgroup.WithContext(ctx)

	scheduler := NewScheduler(ctx, d.runner, d.config.Logger)
	if err := d.applySchedule(scheduler, d.config.Schedule); err != nil {
		return err
	}
	scheduler.Start()

	d.mu.Lock()
	d.scheduler = scheduler
	d.mu.Unlock()

	if d.config.Schedule.RunOnStart {
		g.Go(func() error {
			d.runAll(ctx)
			return nil
		})
	}

	if d.config.ConfigFile != "" && d.config.Reloader != nil {
		watcher, err := NewConfigWatcher(d.config.ConfigFile, d.config.DebounceInterval, d.config.Logger)
		if err != nil {
			scheduler.Stop()
			return err
		}
		if err := watcher.Start(); err != nil {
			scheduler.Stop()
			_ = watcher.Stop()
			return err
		}

		g.Go(func() error {
			defer watcher.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-watcher.Changes():
					if !ok {
						return nil
					}
					d.reload(ctx, scheduler)
				}
			}
		})
	}

	for _, svc := range d.services {
		g.Go(func() error { return svc.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("shutdown signal received")
		scheduler.Stop()
		return nil
	})

	err := g.Wait()

	d.mu.Lock()
	d.scheduler = nil
	d.mu.Unlock()

	d.logger.Info("daemon stopped")
	return err
}

// Entries lists the active schedules, or nil when the daemon is not running.
func (d *Daemon) Entries() []Entry {
	d.mu.Lock()
	scheduler := d.scheduler
	d.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	return scheduler.Entries()
}

// Reloads receives a value after every applied config reload.
func (d *Daemon) Reloads() <-chan struct{} {
	return d.reloads
}

func (d *Daemon) runAll(ctx context.Context) {
	for _, kind := range []dirsync.Kind{dirsync.KindGroups, dirsync.KindUsers} {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.runner.Run(ctx, kind); err != nil {
			d.logger.Warn("startup pass failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

func (d *Daemon) reload(ctx context.Context, scheduler *Scheduler) {
	schedule, err := d.config.Reloader.Reload(ctx)
	if err != nil {
		d.logger.Error("config reload failed, keeping previous settings", zap.Error(err))
		return
	}
	if err := d.applySchedule(scheduler, schedule); err != nil {
		d.logger.Error("schedule reload failed", zap.Error(err))
		return
	}

	d.logger.Info("config reloaded", zap.String("file", d.config.ConfigFile))
	select {
	case d.reloads <- struct{}{}:
	default:
	}
}

func (d *Daemon) applySchedule(scheduler *Scheduler, schedule config.ScheduleConfig) error {
	if err := scheduler.Schedule(dirsync.KindGroups, schedule.Groups); err != nil {
		return fmt.Errorf("failed to schedule group pass: %w", err)
	}
	if err := scheduler.Schedule(dirsync.KindUsers, schedule.Users); err != nil {
		return fmt.Errorf("failed to schedule user pass: %w", err)
	}
	return nil
}
