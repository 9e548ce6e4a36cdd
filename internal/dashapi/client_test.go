package dashapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"taskdeck/internal/events"
)

func TestClient_FetchTasksSendsUserHeader(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotUser = r.Header.Get("X-User")
		_, _ = io.WriteString(w, `{"build":{"name":"build","state":"running","can_run":true}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithUser("alice"))
	tasks, err := c.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotUser != "alice" {
		t.Fatalf("expected X-User header, got %q", gotUser)
	}
	if len(tasks) != 1 || tasks[0].ID != "build" || !tasks[0].CanRun {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestClient_RunAndStop(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		if strings.HasSuffix(r.URL.Path, "/stop") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "Ok")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Run(context.Background(), "deploy", map[string]string{"host": "web1", "env": "prod"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	err := c.Stop(context.Background(), "deploy")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError, got %#v", err)
	}
	want := []string{"POST /api/v1/task/deploy?env=prod&host=web1", "POST /api/v1/task/deploy/stop?"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("unexpected calls: %#v", calls)
	}
}

func TestClient_LinesUseGetForCapturedAndPostForRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, "fresh1\nfresh2\n")
			return
		}
		_, _ = io.WriteString(w, "\nold1\r\nold2\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.ReadLines(context.Background(), "hosts")
	if err != nil || !reflect.DeepEqual(got, []string{"old1", "old2"}) {
		t.Fatalf("unexpected captured lines: %#v %v", got, err)
	}
	got, err = c.RunLines(context.Background(), "hosts")
	if err != nil || !reflect.DeepEqual(got, []string{"fresh1", "fresh2"}) {
		t.Fatalf("unexpected run lines: %#v %v", got, err)
	}
}

func TestClient_OpenOutputReportsCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=ISO-8859-1")
		_, _ = io.WriteString(w, "x")
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).OpenOutput(context.Background(), "a b")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer func() {
		_ = out.Body.Close()
	}()
	if out.Charset != "ISO-8859-1" {
		t.Fatalf("unexpected charset %q", out.Charset)
	}
}

func TestSplitLines_EmptyOutput(t *testing.T) {
	if got := SplitLines("  \n"); got != nil {
		t.Fatalf("expected no lines, got %#v", got)
	}
}

func TestReadSSE_ParsesNamedEventsAndComments(t *testing.T) {
	stream := ": hello\n\nevent: ping\ndata: null\n\nevent: started\ndata: {\"task\":\"a\",\ndata: \"arguments\":{}}\n\ndata: plain\n\nevent: update_config\n\n"
	type got struct {
		name string
		data string
	}
	var seen []got
	err := readSSE(strings.NewReader(stream), func(name string, data []byte) bool {
		seen = append(seen, got{name, string(data)})
		return true
	})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := []got{
		{"ping", "null"},
		{"started", "{\"task\":\"a\",\n\"arguments\":{}}"},
		{"message", "plain"},
		{"update_config", ""},
	}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("unexpected events: %#v", seen)
	}
}

func TestSSETransport_DeliversEventsThenCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ping\ndata: null\n\n")
		fmt.Fprint(w, "event: finished\ndata: {\"task\":\"a\",\"exit_code\":0}\n\n")
		fmt.Fprint(w, "event: finished\ndata: not json\n\n")
	}))
	defer srv.Close()

	conn, err := NewSSETransport(NewClient(srv.URL), "").Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	var kinds []events.Kind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-conn.Events():
			kinds = append(kinds, ev.Kind())
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	if kinds[0] != events.KindPing || kinds[1] != events.KindFinished {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected channel to close at end of stream")
	}
	if !conn.Closed() || !errors.Is(conn.Err(), io.EOF) {
		t.Fatalf("expected closed with EOF, got closed=%v err=%v", conn.Closed(), conn.Err())
	}
}

func TestSSETransport_OpenFailsOnStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewSSETransport(NewClient(srv.URL), "").Open(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
