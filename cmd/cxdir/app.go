package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/config"
	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/host"
	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
	"github.com/thaliawww/cxdir/internal/logging"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Loaded
	logger   *zap.Logger
	closeLog func() error

	db     *db.DB
	client *remote.Client
	users  *dirsync.UserReconciler
	runner *dirsync.Runner

	groupDir *query.GroupProvider
	userDir  *query.UserProvider
}

func loadConfig() (*config.Loaded, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp loads configuration and opens the cache.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	database, err := db.OpenWithConfig(cfg.Cache.Path, &db.Config{
		ReadConns: cfg.Cache.ReadConns,
		Logger:    logger,
	})
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		_ = closeLog()
		return nil, err
	}

	client := remote.New(remote.Config{
		Host:    cfg.Concrexit.Host,
		Secret:  cfg.Concrexit.Secret,
		Timeout: cfg.Concrexit.Timeout,
	}, nil, logger)

	var registry host.UserRegistry
	if cfg.Keycloak.URL != "" {
		registry = host.NewKeycloak(host.KeycloakConfig{
			URL:            cfg.Keycloak.URL,
			Realm:          cfg.Keycloak.Realm,
			ClientID:       cfg.Keycloak.ClientID,
			ClientSecret:   cfg.Keycloak.ClientSecret,
			QuotaAttribute: cfg.Keycloak.QuotaAttribute,
		}, logger)
	} else {
		logger.Debug("keycloak.url not set, user passes will not update the identity host")
	}

	users := dirsync.NewUserReconciler(database, client, registry, cfg.Concrexit.Quota, logger)
	runner := dirsync.NewRunner(database, logger,
		dirsync.NewGroupReconciler(database, client, logger),
		users,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		db:       database,
		client:   client,
		users:    users,
		runner:   runner,
		groupDir: query.NewGroupProvider(database, logger),
		userDir:  query.NewUserProvider(database, client, logger),
	}, nil
}

func (a *app) Close() error {
	err := a.db.Close()
	return errors.Join(err, a.closeLog())
}

// reload re-reads the config file and applies the settings that can change
// without a restart: remote credentials, quota and schedules.
func (a *app) reload(ctx context.Context) (config.ScheduleConfig, error) {
	cfg, err := config.Load(a.cfg.File)
	if err != nil {
		return config.ScheduleConfig{}, err
	}

	a.client.Configure(cfg.Concrexit.Host, cfg.Concrexit.Secret)
	a.users.SetQuota(cfg.Concrexit.Quota)

	if cfg.Cache.Path != a.cfg.Cache.Path || cfg.Dashboard != a.cfg.Dashboard || cfg.Keycloak != a.cfg.Keycloak {
		a.logger.Warn("cache, dashboard and keycloak settings take effect after a restart")
	}

	a.logger.Info("applied config",
		zap.String("host", cfg.Concrexit.Host),
		zap.String("quota", cfg.Concrexit.Quota),
		zap.String("groups_schedule", cfg.Schedule.Groups),
		zap.String("users_schedule", cfg.Schedule.Users))
	return cfg.Schedule, nil
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
