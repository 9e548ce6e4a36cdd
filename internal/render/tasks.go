package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"taskdeck/internal/events"
	"taskdeck/internal/historydb"
	"taskdeck/internal/reconcile"
)

const uncategorized = "(uncategorized)"

// TaskList renders the dashboard grouped by category, one task per line.
func (r *Renderer) TaskList(view reconcile.View) string {
	idWidth := 0
	for id := range view.Tasks {
		idWidth = max(idWidth, lipgloss.Width(id))
	}

	var b strings.Builder
	for _, cat := range view.Categories {
		name := cat.Name
		if name == "" {
			name = uncategorized
		}
		b.WriteString(r.th.category.Render(name))
		b.WriteByte('\n')
		for _, id := range cat.TaskIDs {
			rec, ok := view.Tasks[id]
			if !ok {
				continue
			}
			b.WriteString("  ")
			b.WriteString(r.th.taskID.Width(idWidth).Render(id))
			b.WriteString("  ")
			b.WriteString(r.stateBadge(rec))
			if desc := strings.TrimSpace(rec.Meta.Description); desc != "" {
				b.WriteString("  ")
				b.WriteString(r.th.faint.Render(desc))
			}
			if args := formatArgs(rec.ArgumentValues); args != "" {
				b.WriteString("  ")
				b.WriteString(r.th.faint.Render(args))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (r *Renderer) stateBadge(rec reconcile.TaskRecord) string {
	const badgeWidth = 16
	switch rec.State {
	case reconcile.Running:
		return r.th.running.Width(badgeWidth).Render("running")
	case reconcile.Finished:
		return r.exitBadge(rec.ExitCode, badgeWidth)
	default:
		return r.th.idle.Width(badgeWidth).Render("idle")
	}
}

func (r *Renderer) exitBadge(code events.ExitCode, width int) string {
	switch {
	case !code.Present:
		return r.th.idle.Width(width).Render("finished")
	case code.IsStopped():
		return r.th.stopped.Width(width).Render("stopped")
	case *code.Code == 0:
		return r.th.success.Width(width).Render("ok")
	default:
		return r.th.failure.Width(width).Render("exit " + code.String())
	}
}

// Runs renders history entries, newest first as given.
func (r *Renderer) Runs(runs []historydb.Run) string {
	var b strings.Builder
	for _, run := range runs {
		started := "-"
		if !run.StartedAt.IsZero() {
			started = run.StartedAt.Local().Format(time.DateTime)
		}
		b.WriteString(r.th.faint.Render(started))
		b.WriteString("  ")
		b.WriteString(r.th.taskID.Render(run.TaskID))
		b.WriteString("  ")
		switch run.State {
		case "running":
			b.WriteString(r.th.running.Render(run.State))
		case "abandoned":
			b.WriteString(r.th.idle.Render(run.State))
		default:
			b.WriteString(r.exitBadge(run.ExitCode, 0))
		}
		if !run.StartedAt.IsZero() && !run.FinishedAt.IsZero() {
			b.WriteString("  ")
			b.WriteString(r.th.faint.Render(run.FinishedAt.Sub(run.StartedAt).String()))
		}
		if args := formatArgs(run.Arguments); args != "" {
			b.WriteString("  ")
			b.WriteString(r.th.faint.Render(args))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, args[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
