package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"taskdeck/internal/command"
	"taskdeck/internal/config"
	"taskdeck/internal/dashapi"
	"taskdeck/internal/historydb"
	"taskdeck/internal/outputs"
	"taskdeck/internal/reconcile"
	"taskdeck/internal/render"
)

func runTask(ctx context.Context, out io.Writer, cfg config.Config, req command.RunRequest) error {
	logger := newLogger(cfg).With("module", "run", "task", req.TaskID)
	client := newClient(cfg, logger)
	store, closeStore := openHistory(cfg, logger, false)
	defer closeStore()

	args, err := startTask(ctx, client, store, req, logger)
	if err != nil {
		return err
	}
	logger.Info("task started", "args", len(args))
	if !req.Follow {
		return nil
	}
	return streamOutput(ctx, client, render.New(out, cfg.Color), req.TaskID, false)
}

// startTask resolves the run arguments against the task's domains and
// starts it. Arguments not given fall back to the last run's values when
// requested, then to the first value of the domain.
func startTask(ctx context.Context, client *dashapi.Client, store *historydb.Store, req command.RunRequest, logger *slog.Logger) (map[string]string, error) {
	tasks, err := client.FetchTasks(ctx)
	if err != nil {
		return nil, err
	}
	rec := reconcile.New(nil, logger)
	rec.LoadSnapshot(tasks)
	task, ok := rec.Lookup(req.TaskID)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", req.TaskID)
	}
	if !task.CanRun {
		return nil, fmt.Errorf("task %q cannot be run", req.TaskID)
	}

	var last map[string]string
	if req.ReuseLast && store != nil {
		if last, err = store.LastArguments(req.TaskID); err != nil {
			logger.Warn("load last arguments failed", "err", err)
		}
	}

	cache := outputs.NewCache(client, rec, logger)
	defer cache.Close()
	args, err := resolveArguments(ctx, cache, task, req.Args, last)
	if err != nil {
		return nil, err
	}
	if err := client.Run(ctx, req.TaskID, args); err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.RememberArguments(req.TaskID, args); err != nil {
			logger.Warn("remember arguments failed", "err", err)
		}
	}
	return args, nil
}

func resolveArguments(ctx context.Context, cache *outputs.Cache, task reconcile.TaskRecord, given, last map[string]string) (map[string]string, error) {
	known := map[string]bool{}
	for _, arg := range task.Arguments {
		known[arg.Name] = true
	}
	for name := range given {
		if !known[name] {
			return nil, fmt.Errorf("task %q has no argument %q", task.ID, name)
		}
	}

	bindings, err := cache.BindTask(ctx, task)
	defer func() {
		for _, b := range bindings {
			cache.Unbind(b)
		}
	}()
	if err != nil {
		return nil, err
	}
	args := make(map[string]string, len(bindings))
	var errs []error
	for _, b := range bindings {
		if v, ok := given[b.Name]; ok {
			if err := b.Select(v); err != nil {
				errs = append(errs, err)
				continue
			}
		} else if v, ok := last[b.Name]; ok {
			// A remembered value that left the domain falls back to the default.
			_ = b.Select(v)
		}
		args[b.Name] = b.Selected()
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return args, nil
}
