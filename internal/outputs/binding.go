package outputs

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"taskdeck/internal/reconcile"
)

// Binding is the selected value of one task argument together with the
// domain it was chosen from.
type Binding struct {
	TaskID string
	Name   string
	Source string

	mu       sync.Mutex
	domain   []string
	selected string
}

func (b *Binding) Selected() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

func (b *Binding) Domain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.domain)
}

// Select picks value. Values outside a known, non-empty domain are refused.
func (b *Binding) Select(value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.domain) > 0 && !slices.Contains(b.domain, value) {
		return fmt.Errorf("%q is not a valid value for argument %s of %s", value, b.Name, b.TaskID)
	}
	b.selected = value
	return nil
}

// resolve installs a new domain, keeping the selection when it is still
// part of it and falling back to the first entry otherwise.
func (b *Binding) resolve(domain []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.domain = slices.Clone(domain)
	if slices.Contains(b.domain, b.selected) {
		return
	}
	if len(b.domain) == 0 {
		b.selected = ""
		return
	}
	b.selected = b.domain[0]
}

// Bind creates the binding for one argument. Static domains resolve at
// once; enum domains resolve from whatever the cache already holds and
// again every time the source is refetched.
func (c *Cache) Bind(taskID string, arg reconcile.ArgumentSpec) *Binding {
	b := &Binding{TaskID: taskID, Name: arg.Name, Source: arg.EnumSource}
	if arg.EnumSource == "" {
		b.resolve(arg.Values)
		return b
	}
	c.mu.Lock()
	c.bindings[arg.EnumSource] = append(c.bindings[arg.EnumSource], b)
	var lines []string
	fetched := false
	if e, ok := c.entries[arg.EnumSource]; ok && e.fetched {
		lines, fetched = slices.Clone(e.lines), true
	}
	c.mu.Unlock()
	if fetched {
		b.resolve(lines)
	}
	return b
}

func (c *Cache) Unbind(b *Binding) {
	if b == nil || b.Source == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.bindings[b.Source]
	if i := slices.Index(list, b); i >= 0 {
		c.bindings[b.Source] = slices.Delete(list, i, i+1)
	}
}

// BindTask binds every argument of rec, fetching enum domains that were
// never fetched. A failed fetch leaves that binding on its last-known
// domain and is reported after all arguments were bound.
func (c *Cache) BindTask(ctx context.Context, rec reconcile.TaskRecord) ([]*Binding, error) {
	out := make([]*Binding, 0, len(rec.Arguments))
	var firstErr error
	for _, arg := range rec.Arguments {
		b := c.Bind(rec.ID, arg)
		out = append(out, b)
		if arg.EnumSource == "" {
			continue
		}
		lines, err := c.Options(ctx, arg.EnumSource)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load options for %s.%s: %w", rec.ID, arg.Name, err)
			}
			continue
		}
		b.resolve(lines)
	}
	return out, firstErr
}
