package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/curioshelf/curio/cache"
	"github.com/curioshelf/curio/catalog"
	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/db"
	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/logger"
	"github.com/curioshelf/curio/queue"
)

// app holds the assembled services a command runs against.
type app struct {
	cfg   *config.Config
	db    *sql.DB
	cache cache.Cache
	queue *queue.Queue
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// buildApp assembles database, cache, catalog handlers, and queue from
// configuration. The queue is constructed but not started.
func buildApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	warmCache, err := cache.New(cfg.Cache)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to build cache")
	}

	store := queue.NewSQLiteStore(database)
	handlers := catalog.NewHandlers(
		catalog.NewClient(cfg.Catalog),
		catalog.NewRepository(database),
		warmCache,
		store,
	)
	q := queue.New(store, queue.NewRegistry(handlers...), cfg.Queue)

	return &app{
		cfg:   cfg,
		db:    database,
		cache: warmCache,
		queue: q,
	}, nil
}
