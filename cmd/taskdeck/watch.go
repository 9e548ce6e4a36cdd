package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/muesli/termenv"

	"taskdeck/internal/channel"
	"taskdeck/internal/command"
	"taskdeck/internal/config"
	"taskdeck/internal/lifecycle"
	"taskdeck/internal/reconcile"
	"taskdeck/internal/render"
	"taskdeck/internal/session"
)

// watchView redraws the task list whenever the session reports a change.
type watchView struct {
	mu       sync.Mutex
	out      io.Writer
	term     *termenv.Output
	renderer *render.Renderer
	clear    bool
	state    channel.State
	last     reconcile.View
	logger   *slog.Logger
}

func newWatchView(out io.Writer, cfg config.Config, logger *slog.Logger) *watchView {
	term := termenv.NewOutput(out)
	r := render.New(out, cfg.Color)
	return &watchView{
		out:      out,
		term:     term,
		renderer: r,
		clear:    cfg.Color != render.ColorNever && term.Profile != termenv.Ascii,
		logger:   logger,
	}
}

func (v *watchView) onChange(view reconcile.View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = view
	v.drawLocked()
}

func (v *watchView) onChannelState(s channel.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s
	if v.last.Tasks != nil {
		v.drawLocked()
	}
}

func (v *watchView) drawLocked() {
	if v.clear {
		v.term.ClearScreen()
	}
	var b strings.Builder
	b.WriteString(time.Now().Format(time.TimeOnly))
	b.WriteString("  channel ")
	b.WriteString(v.state.String())
	b.WriteString("\n\n")
	b.WriteString(v.renderer.TaskList(v.last))
	if !v.clear {
		b.WriteString("\n")
	}
	if _, err := io.WriteString(v.out, b.String()); err != nil {
		v.logger.Debug("redraw failed", "err", err)
	}
}

func runWatch(ctx context.Context, out io.Writer, cfg config.Config, opts command.WatchOptions) error {
	logger := newLogger(cfg)
	client := newClient(cfg, logger)
	store, closeStore := openHistory(cfg, logger, true)

	view := newWatchView(out, cfg, logger)
	build := func() *session.Session {
		return session.New(session.Options{
			Client:           client,
			EventsURL:        cfg.EventsURL,
			WatchdogInterval: cfg.WatchdogInterval(),
			BindArguments:    opts.BindArguments,
			History:          store,
			Logger:           logger,
			OnChange:         view.onChange,
			OnChannelState:   view.onChannelState,
		})
	}

	mgr := lifecycle.NewManager(logger.With("module", "lifecycle"))
	mgr.AddShutdown("history", func(context.Context) error {
		closeStore()
		return nil
	})
	mgr.AddRun("session", func(ctx context.Context) error {
		return session.RunWithResets(ctx, build, cfg.ResetDelay(), logger)
	})
	return mgr.Run(ctx)
}
