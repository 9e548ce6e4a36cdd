package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"taskdeck/internal/config"
)

type WatchOptions struct {
	BindArguments bool
}

type TailRequest struct {
	TaskID string
	// Run starts the task and streams the output of that run.
	Run bool
}

type RunRequest struct {
	TaskID string
	Args   map[string]string
	// ReuseLast fills arguments not given in Args from the last run.
	ReuseLast bool
	Follow    bool
}

type HistoryRequest struct {
	TaskID string
	Limit  int
	Clear  bool
}

type Deps struct {
	LoadConfig    func() config.Config
	UseConfigFile func(path string) error
	Watch         func(context.Context, config.Config, WatchOptions) error
	ListTasks     func(context.Context, config.Config) error
	Tail          func(context.Context, config.Config, TailRequest) error
	Run           func(context.Context, config.Config, RunRequest) error
	Stop          func(context.Context, config.Config, string) error
	History       func(context.Context, config.Config, HistoryRequest) error
	MigrateUp     func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	watch := func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx, deps)
		if err != nil {
			return err
		}
		if deps.Watch == nil {
			return errors.New("watch runner is not configured")
		}
		return deps.Watch(ctx.Context, cfg, WatchOptions{BindArguments: ctx.Bool("bind-args")})
	}
	watchFlags := []cli.Flag{
		&cli.BoolFlag{Name: "bind-args", Usage: "resolve enum arguments and follow their source tasks"},
	}

	return &cli.App{
		Name:  "taskdeck",
		Usage: "task dashboard client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML or YAML config file"},
			&cli.StringFlag{Name: "server", Usage: "dashboard base URL"},
			&cli.StringFlag{Name: "user", Usage: "user sent in the X-User header"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "color", Usage: "auto, always or never"},
		},
		Action: watch,
		Commands: []*cli.Command{
			{
				Name:   "watch",
				Usage:  "follow the dashboard live",
				Flags:  watchFlags,
				Action: watch,
			},
			{
				Name:  "tasks",
				Usage: "print the task list once",
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx, deps)
					if err != nil {
						return err
					}
					if deps.ListTasks == nil {
						return errors.New("task list runner is not configured")
					}
					return deps.ListTasks(ctx.Context, cfg)
				},
			},
			{
				Name:      "tail",
				Usage:     "stream a task's colorized output",
				ArgsUsage: "TASK",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "run", Usage: "start the task and stream that run"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx, deps)
					if err != nil {
						return err
					}
					id, err := taskArg(ctx)
					if err != nil {
						return err
					}
					if deps.Tail == nil {
						return errors.New("tail runner is not configured")
					}
					return deps.Tail(ctx.Context, cfg, TailRequest{TaskID: id, Run: ctx.Bool("run")})
				},
			},
			{
				Name:      "run",
				Usage:     "start a task",
				ArgsUsage: "TASK",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "arg", Aliases: []string{"a"}, Usage: "argument as name=value"},
					&cli.BoolFlag{Name: "last", Usage: "reuse arguments of the previous run"},
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "stream output after starting"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx, deps)
					if err != nil {
						return err
					}
					id, err := taskArg(ctx)
					if err != nil {
						return err
					}
					args, err := ParseArgs(ctx.StringSlice("arg"))
					if err != nil {
						return err
					}
					if deps.Run == nil {
						return errors.New("run runner is not configured")
					}
					return deps.Run(ctx.Context, cfg, RunRequest{
						TaskID:    id,
						Args:      args,
						ReuseLast: ctx.Bool("last"),
						Follow:    ctx.Bool("follow"),
					})
				},
			},
			{
				Name:      "stop",
				Usage:     "stop a running task",
				ArgsUsage: "TASK",
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx, deps)
					if err != nil {
						return err
					}
					id, err := taskArg(ctx)
					if err != nil {
						return err
					}
					if deps.Stop == nil {
						return errors.New("stop runner is not configured")
					}
					return deps.Stop(ctx.Context, cfg, id)
				},
			},
			{
				Name:      "history",
				Usage:     "list runs seen by this client",
				ArgsUsage: "[TASK]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
					&cli.BoolFlag{Name: "clear", Usage: "delete the local run history"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx, deps)
					if err != nil {
						return err
					}
					if deps.History == nil {
						return errors.New("history runner is not configured")
					}
					return deps.History(ctx.Context, cfg, HistoryRequest{
						TaskID: strings.TrimSpace(ctx.Args().First()),
						Limit:  ctx.Int("limit"),
						Clear:  ctx.Bool("clear"),
					})
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg, err := loadConfig(ctx, deps)
							if err != nil {
								return err
							}
							if deps.MigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.MigrateUp(ctx.Context, cfg)
						},
					},
				},
			},
		},
	}
}

func loadConfig(ctx *cli.Context, deps Deps) (config.Config, error) {
	if path := ctx.String("config"); path != "" {
		useFile := deps.UseConfigFile
		if useFile == nil {
			useFile = config.UseFile
		}
		if err := useFile(path); err != nil {
			return config.Config{}, fmt.Errorf("config file: %w", err)
		}
	}
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.LoadConfig()
	}
	if v := ctx.String("server"); v != "" {
		cfg.ServerURL = v
	}
	if v := ctx.String("user"); v != "" {
		cfg.User = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := ctx.String("color"); v != "" {
		cfg.Color = v
	}
	return cfg, nil
}

func taskArg(ctx *cli.Context) (string, error) {
	id := strings.TrimSpace(ctx.Args().First())
	if id == "" {
		return "", errors.New("task name is required")
	}
	return id, nil
}

// ParseArgs turns name=value pairs into an argument map.
func ParseArgs(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q must look like name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}
