package command

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"taskdeck/internal/config"
)

func testConfig() config.Config {
	return config.Config{ServerURL: "http://dash", LogLevel: "info", Color: "auto"}
}

func TestBuildApp_DefaultCommandIsWatch(t *testing.T) {
	watchCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: testConfig,
		Watch: func(context.Context, config.Config, WatchOptions) error {
			watchCalled++
			return nil
		},
		MigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if watchCalled != 1 || migrateCalled != 0 {
		t.Fatalf("unexpected call count watch=%d migrate=%d", watchCalled, migrateCalled)
	}
}

func TestBuildApp_GlobalFlagsOverrideConfig(t *testing.T) {
	var got config.Config
	var opts WatchOptions
	app := BuildApp(Deps{
		LoadConfig: testConfig,
		Watch: func(_ context.Context, cfg config.Config, o WatchOptions) error {
			got = cfg
			opts = o
			return nil
		},
	})
	args := []string{"taskdeck", "--server", "http://other", "--user", "alice", "--color", "never", "watch", "--bind-args"}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.ServerURL != "http://other" || got.User != "alice" || got.Color != "never" {
		t.Fatalf("flags not applied: %+v", got)
	}
	if !opts.BindArguments {
		t.Fatal("expected bind-args")
	}
}

func TestBuildApp_RunCommandParsesArguments(t *testing.T) {
	var req RunRequest
	app := BuildApp(Deps{
		LoadConfig: testConfig,
		Run: func(_ context.Context, _ config.Config, r RunRequest) error {
			req = r
			return nil
		},
	})
	args := []string{"taskdeck", "run", "--arg", "host=web1", "-a", "note=a=b", "--last", "deploy"}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := RunRequest{
		TaskID:    "deploy",
		Args:      map[string]string{"host": "web1", "note": "a=b"},
		ReuseLast: true,
	}
	if !reflect.DeepEqual(req, want) {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestBuildApp_RunRequiresTask(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: testConfig,
		Run:        func(context.Context, config.Config, RunRequest) error { return nil },
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "run"}); err == nil {
		t.Fatal("expected missing task error")
	}
}

func TestBuildApp_TailStopHistoryAndMigrate(t *testing.T) {
	var tail TailRequest
	var stopped string
	var hist HistoryRequest
	migrateCalled := 0
	deps := Deps{
		LoadConfig: testConfig,
		Tail: func(_ context.Context, _ config.Config, r TailRequest) error {
			tail = r
			return nil
		},
		Stop: func(_ context.Context, _ config.Config, id string) error {
			stopped = id
			return nil
		},
		History: func(_ context.Context, _ config.Config, r HistoryRequest) error {
			hist = r
			return nil
		},
		MigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	}
	for _, args := range [][]string{
		{"taskdeck", "tail", "--run", "build"},
		{"taskdeck", "stop", "build"},
		{"taskdeck", "history", "-n", "5", "build"},
		{"taskdeck", "migrate", "up"},
	} {
		if err := BuildApp(deps).RunContext(context.Background(), args); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}
	if tail != (TailRequest{TaskID: "build", Run: true}) {
		t.Fatalf("unexpected tail request: %+v", tail)
	}
	if stopped != "build" {
		t.Fatalf("unexpected stop target %q", stopped)
	}
	if hist != (HistoryRequest{TaskID: "build", Limit: 5}) {
		t.Fatalf("unexpected history request: %+v", hist)
	}
	if migrateCalled != 1 {
		t.Fatalf("expected migrate command called once, got %d", migrateCalled)
	}
}

func TestBuildApp_ConfigFileErrorStopsCommand(t *testing.T) {
	watchCalled := 0
	app := BuildApp(Deps{
		LoadConfig:    testConfig,
		UseConfigFile: func(string) error { return errors.New("boom") },
		Watch: func(context.Context, config.Config, WatchOptions) error {
			watchCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "--config", "x.toml"}); err == nil {
		t.Fatal("expected config error")
	}
	if watchCalled != 0 {
		t.Fatal("watch must not run with a broken config file")
	}
}

func TestParseArgs_RejectsMissingName(t *testing.T) {
	if _, err := ParseArgs([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := ParseArgs([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
	got, err := ParseArgs([]string{"a="})
	if err != nil || !reflect.DeepEqual(got, map[string]string{"a": ""}) {
		t.Fatalf("unexpected parse: %#v %v", got, err)
	}
}

func TestBuildApp_MissingRunnerErrors(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: testConfig})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "tasks"}); err == nil {
		t.Fatal("expected unconfigured runner error")
	}
}
