// Package app wires a workspace into a ready engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"propline/internal/config"
	"propline/internal/db"
	"propline/internal/engine"
	"propline/internal/migrate"
	"propline/internal/notify"
	"propline/internal/storage"
)

// Runtime owns the resources behind one workspace.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Files     storage.Local
	Notifier  *notify.Async
}

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/propline.yml.
	ConfigPath string
	Logger     *log.Logger
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOrDefault(opts.Workspace)
}

// Open migrates the workspace database, seeds the template catalog and
// builds the engine with storage and notification channels attached.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	files := storage.Local{
		Dir:     cfg.StorageDir(opts.Workspace),
		Secret:  []byte(config.Secret(cfg.Storage.SigningSecretEnv)),
		BaseURL: cfg.Storage.BaseURL,
	}
	notifier := notify.FromConfig(cfg.Notify, logger)

	eng := engine.New(conn, cfg)
	eng.Files = files
	eng.Notifier = notifier
	eng.Logger = logger
	if err := eng.SeedTemplates(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed templates: %w", err)
	}
	return &Runtime{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    eng,
		Files:     files,
		Notifier:  notifier,
	}, nil
}

// Close drains pending notifications and closes the database.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Notifier != nil {
		r.Notifier.Wait()
	}
	if r.DB == nil {
		return nil
	}
	if err := r.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
