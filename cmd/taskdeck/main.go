package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/gorm"

	"taskdeck/internal/command"
	"taskdeck/internal/config"
	"taskdeck/internal/dashapi"
	dbmodel "taskdeck/internal/db"
	"taskdeck/internal/historydb"
	"taskdeck/internal/logging"
	"taskdeck/internal/reconcile"
	"taskdeck/internal/render"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:    config.LoadConfig,
		UseConfigFile: config.UseFile,
		Watch: func(ctx context.Context, cfg config.Config, opts command.WatchOptions) error {
			return runWatch(ctx, os.Stdout, cfg, opts)
		},
		ListTasks: func(ctx context.Context, cfg config.Config) error {
			return runListTasks(ctx, os.Stdout, cfg)
		},
		Tail: func(ctx context.Context, cfg config.Config, req command.TailRequest) error {
			return runTail(ctx, os.Stdout, cfg, req)
		},
		Run: func(ctx context.Context, cfg config.Config, req command.RunRequest) error {
			return runTask(ctx, os.Stdout, cfg, req)
		},
		Stop: func(ctx context.Context, cfg config.Config, taskID string) error {
			return newClient(cfg, newLogger(cfg)).Stop(ctx, taskID)
		},
		History: func(ctx context.Context, cfg config.Config, req command.HistoryRequest) error {
			return runHistory(ctx, os.Stdout, cfg, req)
		},
		MigrateUp: runMigrateUp,
	})
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "taskdeck: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    os.Stderr,
		Component: "taskdeck",
	})
}

func newClient(cfg config.Config, logger *slog.Logger) *dashapi.Client {
	return dashapi.NewClient(cfg.ServerURL,
		dashapi.WithUser(cfg.User),
		dashapi.WithLogger(logger.With("module", "dashapi")),
	)
}

// openHistory opens the run journal. Commands work without one, so a
// failure is logged and reported as a nil store.
func openHistory(cfg config.Config, logger *slog.Logger, migrate bool) (*historydb.Store, func()) {
	open := dbmodel.Open
	if migrate {
		open = dbmodel.OpenWithMigrations
	}
	gdb, err := open(cfg.HistoryDB)
	if err != nil {
		logger.Warn("history unavailable", "path", cfg.HistoryDB, "err", err)
		return nil, func() {}
	}
	store, err := historydb.NewStore(gdb)
	if err != nil {
		_ = dbmodel.Close(gdb)
		logger.Warn("history unavailable", "path", cfg.HistoryDB, "err", err)
		return nil, func() {}
	}
	return store, func() { closeDB(gdb, logger) }
}

func closeDB(gdb *gorm.DB, logger *slog.Logger) {
	if err := dbmodel.Close(gdb); err != nil {
		logger.Debug("close history failed", "err", err)
	}
}

func runListTasks(ctx context.Context, out io.Writer, cfg config.Config) error {
	logger := newLogger(cfg)
	tasks, err := newClient(cfg, logger).FetchTasks(ctx)
	if err != nil {
		return err
	}
	rec := reconcile.New(nil, logger.With("module", "reconcile"))
	rec.LoadSnapshot(tasks)
	_, err = io.WriteString(out, render.New(out, cfg.Color).TaskList(rec.State()))
	return err
}

func runHistory(_ context.Context, out io.Writer, cfg config.Config, req command.HistoryRequest) error {
	logger := newLogger(cfg)
	gdb, err := dbmodel.Open(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer closeDB(gdb, logger)
	store, err := historydb.NewStore(gdb)
	if err != nil {
		return err
	}
	if req.Clear {
		return store.Clear()
	}
	runs, err := store.List(req.TaskID, req.Limit)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, render.New(out, cfg.Color).Runs(runs))
	return err
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	logger := newLogger(cfg)
	gdb, err := dbmodel.OpenWithMigrations(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer closeDB(gdb, logger)
	logger.Info("history database migrated", "path", cfg.HistoryDB)
	return nil
}
