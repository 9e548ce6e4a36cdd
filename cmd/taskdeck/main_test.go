package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/muesli/termenv"

	"taskdeck/internal/command"
	"taskdeck/internal/config"
	"taskdeck/internal/dashapi"
	dbmodel "taskdeck/internal/db"
	"taskdeck/internal/historydb"
	"taskdeck/internal/logging"
	"taskdeck/internal/render"
)

const dashboardTasks = `{
	"deploy": {"state": "new", "can_run": true, "meta": {"arguments": [
		{"name": "host", "enum_source": "hosts"},
		{"name": "mode", "values": ["safe", "fast"]}
	]}},
	"hosts": {"state": "finished", "exit_code": 0, "can_run": true},
	"locked": {"state": "new", "can_run": false}
}`

type dashboard struct {
	mu   sync.Mutex
	runs []string
	srv  *httptest.Server
}

func newDashboard(t *testing.T) *dashboard {
	t.Helper()
	d := &dashboard{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/tasks":
			_, _ = io.WriteString(w, dashboardTasks)
		case r.URL.Path == "/api/v1/task/hosts/output":
			_, _ = io.WriteString(w, "web1\nweb2\n")
		case r.URL.Path == "/api/v1/task/deploy/output":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "ok \x1b[31mfail\x1b[0m\n")
		case r.URL.Path == "/api/v1/task/deploy" && r.Method == http.MethodPost:
			d.mu.Lock()
			d.runs = append(d.runs, r.URL.RawQuery)
			d.mu.Unlock()
			_, _ = io.WriteString(w, "Ok")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *dashboard) runQueries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.runs...)
}

func newStore(t *testing.T) *historydb.Store {
	t.Helper()
	gdb, err := dbmodel.OpenWithMigrations(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	store, err := historydb.NewStore(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStartTask_DefaultsToFirstDomainValues(t *testing.T) {
	d := newDashboard(t)
	store := newStore(t)
	args, err := startTask(context.Background(), dashapi.NewClient(d.srv.URL), store, command.RunRequest{TaskID: "deploy"}, logging.Nop())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !reflect.DeepEqual(args, map[string]string{"host": "web1", "mode": "safe"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
	if got := d.runQueries(); !reflect.DeepEqual(got, []string{"host=web1&mode=safe"}) {
		t.Fatalf("unexpected run calls: %#v", got)
	}
	last, err := store.LastArguments("deploy")
	if err != nil || !reflect.DeepEqual(last, args) {
		t.Fatalf("expected remembered arguments, got %#v %v", last, err)
	}
}

func TestStartTask_ReusesLastArguments(t *testing.T) {
	d := newDashboard(t)
	store := newStore(t)
	if err := store.RememberArguments("deploy", map[string]string{"host": "web2", "mode": "gone"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req := command.RunRequest{TaskID: "deploy", ReuseLast: true, Args: map[string]string{"mode": "fast"}}
	args, err := startTask(context.Background(), dashapi.NewClient(d.srv.URL), store, req, logging.Nop())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !reflect.DeepEqual(args, map[string]string{"host": "web2", "mode": "fast"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestStartTask_RejectsBadArguments(t *testing.T) {
	d := newDashboard(t)
	client := dashapi.NewClient(d.srv.URL)
	ctx := context.Background()

	if _, err := startTask(ctx, client, nil, command.RunRequest{TaskID: "deploy", Args: map[string]string{"host": "db9"}}, logging.Nop()); err == nil {
		t.Fatal("expected value outside the domain to be rejected")
	}
	if _, err := startTask(ctx, client, nil, command.RunRequest{TaskID: "deploy", Args: map[string]string{"color": "red"}}, logging.Nop()); err == nil {
		t.Fatal("expected unknown argument to be rejected")
	}
	if _, err := startTask(ctx, client, nil, command.RunRequest{TaskID: "locked"}, logging.Nop()); err == nil {
		t.Fatal("expected non-runnable task to be rejected")
	}
	if _, err := startTask(ctx, client, nil, command.RunRequest{TaskID: "nope"}, logging.Nop()); err == nil {
		t.Fatal("expected unknown task to be rejected")
	}
	if got := d.runQueries(); len(got) != 0 {
		t.Fatalf("no task may be started, got %#v", got)
	}
}

func TestStreamOutput_RendersColorizedText(t *testing.T) {
	d := newDashboard(t)
	var buf bytes.Buffer
	r := render.NewWithProfile(&buf, termenv.Ascii)
	if err := streamOutput(context.Background(), dashapi.NewClient(d.srv.URL), r, "deploy", false); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if got := buf.String(); got != "ok fail\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunListTasks_PrintsCategories(t *testing.T) {
	d := newDashboard(t)
	var buf bytes.Buffer
	cfg := config.Config{ServerURL: d.srv.URL, LogLevel: "error", Color: render.ColorNever}
	if err := runListTasks(context.Background(), &buf, cfg); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	out := buf.String()
	for _, id := range []string{"deploy", "hosts", "locked"} {
		if !strings.Contains(out, id) {
			t.Fatalf("expected %s in output:\n%s", id, out)
		}
	}
}
