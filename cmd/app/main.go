package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/config"
	"github.com/BuzzLyutic/todo-store/internal/remote"
	"github.com/BuzzLyutic/todo-store/internal/repo"
	"github.com/BuzzLyutic/todo-store/internal/service"
	"github.com/BuzzLyutic/todo-store/internal/settings"
	"github.com/BuzzLyutic/todo-store/internal/store"
	"github.com/BuzzLyutic/todo-store/internal/worker"
)

var Version = "dev"

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "todo",
		Short:         "Local todo list, seeded once from a remote service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&cfg.Ephemeral, "uitest", cfg.Ephemeral, "use an in-memory store and skip remote seeding")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flags.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "record store driver (sqlite, postgres)")
	flags.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database file")
	flags.StringVar(&cfg.SettingsPath, "settings", cfg.SettingsPath, "settings file")

	rootCmd.AddCommand(serveCmd(&cfg))
	rootCmd.AddCommand(listCmd(&cfg))
	rootCmd.AddCommand(searchCmd(&cfg))
	rootCmd.AddCommand(addCmd(&cfg))
	rootCmd.AddCommand(editCmd(&cfg))
	rootCmd.AddCommand(doneCmd(&cfg))
	rootCmd.AddCommand(rmCmd(&cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is one wired instance: main loop, record store, settings and the
// repository behind a blocking service.
type app struct {
	logger  *zap.Logger
	loop    *worker.Loop
	store   store.Store
	service *service.TaskService
}

func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...store.Option) (*app, error) {
	var prefs settings.Store
	if cfg.Ephemeral {
		prefs = settings.NewMemoryStore()
	} else {
		fs, err := settings.OpenFile(cfg.SettingsPath)
		if err != nil {
			return nil, fmt.Errorf("open settings: %w", err)
		}
		prefs = fs
	}

	loop := worker.NewLoop(logger)
	loop.Start()

	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.DBDriver,
		Path:        cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
		Ephemeral:   cfg.Ephemeral,
	}, loop, logger, opts...)
	if err != nil {
		loop.Stop()
		return nil, err
	}

	seed := remote.NewClient(cfg.SeedURL, cfg.SeedTimeout, logger)
	taskRepo := repo.NewTaskRepo(st, seed, prefs, loop, logger, repo.Options{Ephemeral: cfg.Ephemeral})

	return &app{
		logger:  logger,
		loop:    loop,
		store:   st,
		service: service.NewTaskService(taskRepo),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing record store", zap.Error(err))
	}
	a.loop.Stop()
}

func newLogger(cfg config.Config, production bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	switch {
	case cfg.Debug:
		logger, err = zap.NewDevelopment()
	case production:
		logger, err = zap.NewProduction()
	default:
		return zap.NewNop()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
