// Package session assembles one logical dashboard client: the task view,
// its enum-option cache, the run journal and the push channel feeding them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/channel"
	"taskdeck/internal/dashapi"
	"taskdeck/internal/historydb"
	"taskdeck/internal/logging"
	"taskdeck/internal/outputs"
	"taskdeck/internal/reconcile"
)

type Options struct {
	Client    *dashapi.Client
	EventsURL string
	Dialer    dashapi.Dialer
	// Transport replaces the transport picked from EventsURL.
	Transport        channel.Transport
	WatchdogInterval time.Duration
	// BindArguments resolves the enum arguments of every task after the
	// initial load so their domains follow source task runs.
	BindArguments bool
	History       *historydb.Store
	Logger        *slog.Logger

	OnChange       func(reconcile.View)
	OnChannelState func(channel.State)
}

type Session struct {
	id         string
	opts       Options
	logger     *slog.Logger
	reconciler *reconcile.Reconciler
	cache      *outputs.Cache
	monitor    *channel.Monitor

	mu       sync.Mutex
	bindings []*outputs.Binding
}

func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	id := uuid.NewString()
	logger = logger.With("session", id)

	rec := reconcile.New(opts.Client, logger.With("module", "reconcile"))
	cache := outputs.NewCache(opts.Client, rec, logger.With("module", "outputs"))
	rec.AddObserver(cache)
	if opts.History != nil {
		rec.AddObserver(historydb.NewJournal(opts.History, logger))
	}

	transport := opts.Transport
	if transport == nil {
		transport = TransportFor(opts.Client, opts.EventsURL, opts.Dialer)
	}
	monitor := channel.NewMonitor(transport, rec, channel.Options{
		WatchdogInterval: opts.WatchdogInterval,
		Logger:           logger.With("module", "channel"),
		OnHardReset: func(cause error) {
			logger.Warn("session needs a hard reset", "err", cause)
		},
		OnStateChange: opts.OnChannelState,
	})

	return &Session{
		id:         id,
		opts:       opts,
		logger:     logger,
		reconciler: rec,
		cache:      cache,
		monitor:    monitor,
	}
}

// TransportFor picks the WebSocket transport for ws:// and wss:// event
// URLs and server-sent events otherwise.
func TransportFor(client *dashapi.Client, eventsURL string, dialer dashapi.Dialer) channel.Transport {
	if dashapi.IsWebSocketURL(eventsURL) {
		ws := dashapi.NewWSTransport(client, eventsURL, dialer)
		return channel.TransportFunc(func(ctx context.Context) (channel.Conn, error) {
			conn, err := ws.Open(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		})
	}
	sse := dashapi.NewSSETransport(client, eventsURL)
	return channel.TransportFunc(func(ctx context.Context) (channel.Conn, error) {
		conn, err := sse.Open(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

func (s *Session) ID() string                        { return s.id }
func (s *Session) Reconciler() *reconcile.Reconciler { return s.reconciler }
func (s *Session) Cache() *outputs.Cache             { return s.cache }
func (s *Session) Monitor() *channel.Monitor         { return s.monitor }

func (s *Session) Bindings() []*outputs.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*outputs.Binding(nil), s.bindings...)
}

// Run loads the task collection and then follows the push channel until
// ctx is done. It returns an error wrapping channel.ErrHardReset when the
// session has to be discarded.
func (s *Session) Run(ctx context.Context) error {
	defer s.cache.Close()

	tasks, err := s.opts.Client.FetchTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	s.reconciler.LoadSnapshot(tasks)
	s.logger.Info("session started", "tasks", len(tasks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.reconciler.State())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.forwardChanges(runCtx)
		}()
	}
	if s.opts.BindArguments {
		s.bindAll(runCtx)
	}

	err = s.monitor.Run(runCtx)
	cancel()
	wg.Wait()
	s.unbindAll()
	return err
}

func (s *Session) forwardChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconciler.Changes():
			s.opts.OnChange(s.reconciler.State())
		}
	}
}

func (s *Session) bindAll(ctx context.Context) {
	view := s.reconciler.State()
	for _, cat := range view.Categories {
		for _, id := range cat.TaskIDs {
			bs, err := s.cache.BindTask(ctx, view.Tasks[id])
			if err != nil {
				s.logger.Warn("resolve arguments failed", "task", id, "err", err)
			}
			s.mu.Lock()
			s.bindings = append(s.bindings, bs...)
			s.mu.Unlock()
		}
	}
}

func (s *Session) unbindAll() {
	s.mu.Lock()
	bs := s.bindings
	s.bindings = nil
	s.mu.Unlock()
	for _, b := range bs {
		s.cache.Unbind(b)
	}
}

// RunWithResets keeps a client session alive: a session that needs a hard
// reset, or whose initial load failed for a transient reason, is discarded
// and a fresh one is built after delay.
func RunWithResets(ctx context.Context, build func() *Session, delay time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}
	for {
		s := build()
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		logger.Warn("restarting session", "session", s.ID(), "err", err, "delay", delay.String())
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, channel.ErrHardReset) {
		return true
	}
	var statusErr *dashapi.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return true
}
