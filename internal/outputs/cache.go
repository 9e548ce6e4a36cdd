// Package outputs caches the captured output of tasks that supply the
// value domain of other tasks' arguments, and keeps argument bindings in
// step with that domain.
package outputs

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"taskdeck/internal/reconcile"
)

// LinesFetcher reads a task's output as lines. RunLines runs the task and
// collects the output of that run; ReadLines returns what the last run
// captured.
type LinesFetcher interface {
	RunLines(ctx context.Context, taskID string) ([]string, error)
	ReadLines(ctx context.Context, taskID string) ([]string, error)
}

// TaskIndex is the part of the reconciler the cache depends on.
type TaskIndex interface {
	Lookup(id string) (reconcile.TaskRecord, bool)
	EnumDependents(source string) []reconcile.ArgumentRef
}

// Pending is a fetch in flight.
type Pending struct {
	done  chan struct{}
	lines []string
	err   error
}

// Wait blocks until the fetch resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) ([]string, error) {
	select {
	case <-p.done:
		return slices.Clone(p.lines), p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	lines   []string
	fetched bool
	pending *Pending
	// next is a refresh requested while pending was in flight; it starts
	// once pending resolves.
	next *Pending
}

type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	bindings map[string][]*Binding

	fetcher LinesFetcher
	index   TaskIndex
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCache(fetcher LinesFetcher, index TaskIndex, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries:  map[string]*entry{},
		bindings: map[string][]*Binding{},
		fetcher:  fetcher,
		index:    index,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Options returns the value domain supplied by source, fetching it the
// first time. A source that is not a known task has no options.
func (c *Cache) Options(ctx context.Context, source string) ([]string, error) {
	if _, ok := c.index.Lookup(source); !ok {
		return nil, nil
	}
	c.mu.Lock()
	e := c.entryLocked(source)
	if e.pending == nil && e.fetched {
		lines := slices.Clone(e.lines)
		c.mu.Unlock()
		return lines, nil
	}
	p := e.pending
	if p == nil {
		p = c.startLocked(source, e, true)
	}
	c.mu.Unlock()

	lines, err := p.Wait(ctx)
	if err != nil {
		return c.Cached(source), err
	}
	return lines, nil
}

// Cached returns the last successfully fetched domain without fetching.
func (c *Cache) Cached(source string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[source]; ok {
		return slices.Clone(e.lines)
	}
	return nil
}

// Refresh refetches source in the background and re-resolves its
// bindings when the fetch succeeds. While a fetch is in flight one more
// fetch is queued behind it and later refreshes join the queued one.
func (c *Cache) Refresh(source string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(source)
	if e.pending == nil {
		return c.startLocked(source, e, false)
	}
	if e.next == nil {
		e.next = newPending()
	}
	return e.next
}

// TaskStarted implements reconcile.Observer.
func (c *Cache) TaskStarted(reconcile.TaskRecord) {}

// TaskFinished implements reconcile.Observer: a finished source whose
// output was fetched before is fetched again.
func (c *Cache) TaskFinished(rec reconcile.TaskRecord) {
	c.mu.Lock()
	e, ok := c.entries[rec.ID]
	fetched := ok && e.fetched
	c.mu.Unlock()
	if !fetched {
		return
	}
	if len(c.index.EnumDependents(rec.ID)) == 0 {
		return
	}
	c.logger.Debug("refreshing enum source", "task", rec.ID)
	c.Refresh(rec.ID)
}

// Wait blocks until every background fetch has resolved.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close cancels background fetches and waits for them.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) entryLocked(source string) *entry {
	e, ok := c.entries[source]
	if !ok {
		e = &entry{}
		c.entries[source] = e
	}
	return e
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (c *Cache) startLocked(source string, e *entry, initial bool) *Pending {
	return c.launchLocked(source, e, newPending(), initial)
}

func (c *Cache) launchLocked(source string, e *entry, p *Pending, initial bool) *Pending {
	e.pending = p
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var (
			lines []string
			err   error
		)
		if initial {
			lines, err = c.fetcher.RunLines(c.ctx, source)
		} else {
			lines, err = c.fetcher.ReadLines(c.ctx, source)
		}
		c.complete(source, p, lines, err)
	}()
	return p
}

func (c *Cache) complete(source string, p *Pending, lines []string, err error) {
	c.mu.Lock()
	e := c.entryLocked(source)
	if err == nil {
		e.lines = slices.Clone(lines)
		e.fetched = true
	}
	if e.pending == p {
		e.pending = nil
		if next := e.next; next != nil {
			e.next = nil
			c.launchLocked(source, e, next, false)
		}
	}
	domain := slices.Clone(e.lines)
	bound := slices.Clone(c.bindings[source])
	c.mu.Unlock()

	p.lines = lines
	p.err = err
	close(p.done)

	if err != nil {
		c.logger.Warn("enum source fetch failed", "task", source, "err", err)
		return
	}
	for _, b := range bound {
		b.resolve(domain)
	}
}
