package main

import (
	"context"
	"io"

	"github.com/google/uuid"

	"taskdeck/internal/colorize"
	"taskdeck/internal/command"
	"taskdeck/internal/config"
	"taskdeck/internal/dashapi"
	"taskdeck/internal/render"
)

func runTail(ctx context.Context, out io.Writer, cfg config.Config, req command.TailRequest) error {
	logger := newLogger(cfg).With("module", "tail", "task", req.TaskID, "output_session", uuid.NewString())
	client := newClient(cfg, logger)
	return streamOutput(ctx, client, render.New(out, cfg.Color), req.TaskID, req.Run)
}

// streamOutput renders a task's output until the stream ends or ctx is
// done. With run set the task is started and the output of that run is
// streamed.
func streamOutput(ctx context.Context, client *dashapi.Client, r *render.Renderer, taskID string, run bool) error {
	open := client.OpenOutput
	if run {
		open = client.RunOutput
	}
	output, err := open(ctx, taskID)
	if err != nil {
		return err
	}
	defer func() {
		_ = output.Body.Close()
	}()
	_, err = colorize.Pump(ctx, output.Body, colorize.NewStateWithCharset(output.Charset), r.WriteSegments)
	return err
}
