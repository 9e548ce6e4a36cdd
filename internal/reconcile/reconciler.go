// Package reconcile owns the client's view of which tasks exist and what
// state they are in. It merges full snapshots and push events into one set
// of TaskRecords whose pointers stay valid across snapshots.
package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"taskdeck/internal/events"
)

// Fetcher loads the full task collection from the server.
type Fetcher interface {
	FetchTasks(ctx context.Context) ([]TaskRecord, error)
}

// Observer is told about run transitions after they were applied.
type Observer interface {
	TaskStarted(TaskRecord)
	TaskFinished(TaskRecord)
}

type Category struct {
	Name    string
	TaskIDs []string
}

// CategoryIndex groups task ids by category. It is rebuilt from scratch
// whenever the task set changes.
type CategoryIndex []Category

func (c CategoryIndex) Lookup(name string) []string {
	for _, cat := range c {
		if cat.Name == name {
			return cat.TaskIDs
		}
	}
	return nil
}

// ArgumentRef points at one argument of one task.
type ArgumentRef struct {
	TaskID string
	Arg    ArgumentSpec
}

// View is a consistent copy of the reconciler state.
type View struct {
	Tasks      map[string]TaskRecord
	Categories CategoryIndex
}

type Reconciler struct {
	mu         sync.RWMutex
	tasks      map[string]*TaskRecord
	categories CategoryIndex

	fetcher   Fetcher
	observers []Observer
	changes   chan struct{}
	logger    *slog.Logger
}

func New(fetcher Fetcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Reconciler{
		tasks:   map[string]*TaskRecord{},
		fetcher: fetcher,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
}

func (r *Reconciler) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Changes yields a coalesced signal after every applied mutation.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

func (r *Reconciler) notifyChanged() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// LoadSnapshot makes tasks the current task set. Records whose id survives
// are overwritten in place, new ids are inserted and missing ids removed.
func (r *Reconciler) LoadSnapshot(tasks []TaskRecord) {
	r.mu.Lock()
	next := make(map[string]*TaskRecord, len(tasks))
	for _, incoming := range tasks {
		if incoming.ID == "" {
			continue
		}
		rec := incoming.clone()
		if rec.Data == nil {
			rec.Data = map[string]any{}
		}
		if cur, ok := r.tasks[rec.ID]; ok {
			// The server does not report argument values; keep the last run's.
			if rec.ArgumentValues == nil {
				rec.ArgumentValues = cur.ArgumentValues
			}
			*cur = rec
			next[rec.ID] = cur
			continue
		}
		next[rec.ID] = &rec
	}
	removed := 0
	for id := range r.tasks {
		if _, ok := next[id]; !ok {
			removed++
		}
	}
	r.tasks = next
	r.categories = buildCategories(next)
	r.mu.Unlock()

	r.logger.Debug("task snapshot loaded", "tasks", len(next), "removed", removed)
	r.notifyChanged()
}

// Resync fetches a fresh collection and loads it. State is untouched when
// the fetch fails.
func (r *Reconciler) Resync(ctx context.Context) error {
	if r.fetcher == nil {
		return errors.New("task fetcher is not configured")
	}
	tasks, err := r.fetcher.FetchTasks(ctx)
	if err != nil {
		return err
	}
	r.LoadSnapshot(tasks)
	return nil
}

// ApplyEvent folds one push event into the task set. Events for unknown
// tasks and unknown event kinds are dropped.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.Ping:
		return nil
	case events.Started:
		rec, ok := r.mutate(e.Task, func(t *TaskRecord) {
			t.State = Running
			t.ArgumentValues = maps.Clone(e.Arguments)
		})
		if ok {
			for _, o := range r.observerList() {
				o.TaskStarted(rec)
			}
		}
		return nil
	case events.Finished:
		rec, ok := r.mutate(e.Task, func(t *TaskRecord) {
			t.State = Finished
			t.ExitCode = e.ExitCode
		})
		if ok {
			for _, o := range r.observerList() {
				o.TaskFinished(rec)
			}
		}
		return nil
	case events.UpdateConfig:
		return r.Resync(ctx)
	case events.ChangeData:
		r.mutate(e.Task, func(t *TaskRecord) {
			if t.Data == nil {
				t.Data = map[string]any{}
			}
			t.Data[e.Key] = e.Value
		})
		return nil
	default:
		r.logger.Debug("ignoring unknown event", "kind", string(ev.Kind()))
		return nil
	}
}

func (r *Reconciler) mutate(id string, fn func(*TaskRecord)) (TaskRecord, bool) {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("dropping event for unknown task", "task", id)
		return TaskRecord{}, false
	}
	fn(rec)
	out := rec.clone()
	r.mu.Unlock()
	r.notifyChanged()
	return out, true
}

func (r *Reconciler) observerList() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.observers)
}

// State returns a copy of every task and the category index.
func (r *Reconciler) State() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := View{
		Tasks:      make(map[string]TaskRecord, len(r.tasks)),
		Categories: make(CategoryIndex, 0, len(r.categories)),
	}
	for id, rec := range r.tasks {
		out.Tasks[id] = rec.clone()
	}
	for _, cat := range r.categories {
		out.Categories = append(out.Categories, Category{Name: cat.Name, TaskIDs: slices.Clone(cat.TaskIDs)})
	}
	return out
}

// Task returns the live record for id. The pointer stays the same across
// snapshots for as long as the id exists; read it only between dispatches.
func (r *Reconciler) Task(id string) *TaskRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id]
}

func (r *Reconciler) Lookup(id string) (TaskRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	if !ok {
		return TaskRecord{}, false
	}
	return rec.clone(), true
}

// EnumDependents lists the arguments whose domain comes from source.
func (r *Reconciler) EnumDependents(source string) []ArgumentRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ArgumentRef
	for _, id := range slices.Sorted(maps.Keys(r.tasks)) {
		if id == source {
			continue
		}
		for _, arg := range r.tasks[id].Arguments {
			if arg.EnumSource == source {
				out = append(out, ArgumentRef{TaskID: id, Arg: arg})
			}
		}
	}
	return out
}

func buildCategories(tasks map[string]*TaskRecord) CategoryIndex {
	out := CategoryIndex{}
	pos := map[string]int{}
	for _, id := range slices.Sorted(maps.Keys(tasks)) {
		name := tasks[id].Meta.Category
		i, ok := pos[name]
		if !ok {
			i = len(out)
			pos[name] = i
			out = append(out, Category{Name: name})
		}
		out[i].TaskIDs = append(out[i].TaskIDs, id)
	}
	return out
}
