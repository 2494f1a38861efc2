// Package app opens the database, remote client and sync engine described by
// a Config. Every front end (CLI, desktop server, mobile library) goes
// through Open so they share one wiring.
package app

import (
	"github.com/kimhsiao/noorsync/backend/internal/config"
	"github.com/kimhsiao/noorsync/backend/internal/db"
	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/remote"
	syncpkg "github.com/kimhsiao/noorsync/backend/internal/sync"
	"github.com/kimhsiao/noorsync/backend/internal/sync/scheduler"
)

// App holds the opened resources of one data directory.
type App struct {
	Config *config.Config
	DB     *db.DB
	Repo   *db.Repository
	Remote *remote.Client
	Engine *syncpkg.Engine
}

// Open opens the data directory in cfg and builds the engine over it.
func Open(cfg *config.Config) (*App, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to open database", err)
	}

	repo := db.NewRepository(database.DB)
	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})

	engine, err := syncpkg.NewEngine(syncpkg.Options{
		Store:          db.NewKVStore(database.DB),
		Source:         client,
		Cache:          repo,
		Pusher:         client,
		Conflicts:      repo,
		ContentTypes:   cfg.Sync.ContentTypes,
		StaleLockAfter: cfg.Sync.StaleLockAfter,
		Concurrency:    cfg.Sync.Concurrency,
	})
	if err != nil {
		repo.Close()
		database.Close()
		return nil, err
	}

	logging.Debug("Sync engine opened", map[string]interface{}{
		"data_dir":      cfg.DataDir,
		"remote":        cfg.Remote.BaseURL,
		"content_types": cfg.Sync.ContentTypes,
	})

	return &App{
		Config: cfg,
		DB:     database,
		Repo:   repo,
		Remote: client,
		Engine: engine,
	}, nil
}

// SchedulerConfig maps the scheduler section of the config.
func (a *App) SchedulerConfig() *scheduler.SchedulerConfig {
	return &scheduler.SchedulerConfig{
		SyncInterval:  a.Config.Scheduler.SyncInterval,
		CheckInterval: a.Config.Scheduler.CheckInterval,
		MaxAge:        a.Config.Sync.MaxAge,
	}
}

// Close releases the repository statements and the database.
func (a *App) Close() error {
	if err := a.Repo.Close(); err != nil {
		logging.Warn("Failed to close prepared statements", map[string]interface{}{"error": err.Error()})
	}
	return a.DB.Close()
}
