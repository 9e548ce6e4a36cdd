// Package lifecycle runs a command's long-lived jobs together and tears
// down their resources once all of them returned.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taskdeck/internal/logging"
)

const defaultShutdownTimeout = 5 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{logger: logger, shutdownTimeout: defaultShutdownTimeout}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers cleanup. Cleanups run in reverse registration
// order after every run job returned.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// Run starts every run job and waits. The first job error cancels the
// others; ctx cancellation is a clean stop.
func (m *Manager) Run(ctx context.Context) error {
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	m.mu.Lock()
	runJobs := append([]job(nil), m.runJobs...)
	shutdownJobs := append([]job(nil), m.shutdownJobs...)
	m.mu.Unlock()

	var (
		errMu  sync.Mutex
		runErr error
		wg     sync.WaitGroup
	)
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.run(runCtx)
			if err == nil || errors.Is(err, context.Canceled) {
				m.logger.Debug("job stopped", "job", j.name)
				return
			}
			m.logger.Warn("job failed", "job", j.name, "err", err)
			errMu.Lock()
			runErr = errors.Join(runErr, err)
			errMu.Unlock()
			cancelRuns()
		}()
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()
	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}
