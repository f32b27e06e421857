package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/queuebot/queuebot/platform/reddit"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "modbot",
		Usage:   "moderation automation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"MODBOT_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			Value:   "json",
			EnvVars: []string{"MODBOT_LOG_FORMAT", "LOG_FORMAT"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "shortcut for --log-level=debug",
			EnvVars: []string{"MODBOT_DEBUG"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

// Builds the root logger from the global logging flags, and makes it the slog default
func configLogger(cctx *cli.Context, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	levelName := cctx.String("log-level")
	if cctx.Bool("debug") {
		levelName = "debug"
	}
	switch strings.ToLower(levelName) {
	case "error":
		level = slog.LevelError
	case "warn", "warning":
		level = slog.LevelWarn
	case "info", "":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %q", levelName)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cctx.String("log-format")) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %q", cctx.String("log-format"))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgres://)",
			Value:   "sqlite://data/modbot/modbot.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   10,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"MODBOT_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for shared counters and caches; in-process stores are used if not set",
			EnvVars: []string{"MODBOT_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:     "communities-config",
			Usage:    "path to JSON file with community policies",
			Required: true,
			EnvVars:  []string{"MODBOT_COMMUNITIES_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "path to JSON file with named sets (known log types, service accounts)",
			EnvVars: []string{"MODBOT_SETS_FILE"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "chat webhook for operator notifications (communities may override)",
			EnvVars: []string{"MODBOT_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"MODBOT_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "loop-period",
			Usage:   "time between polling cycles",
			Value:   time.Minute,
			EnvVars: []string{"MODBOT_LOOP_PERIOD"},
		},
		&cli.BoolFlag{
			Name:    "once",
			Usage:   "run a single polling cycle and exit",
			EnvVars: []string{"MODBOT_ONCE"},
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "log moderation actions instead of taking them",
			EnvVars: []string{"MODBOT_DRY_RUN"},
		},
		&cli.StringFlag{
			Name:     "reddit-client-id",
			Required: true,
			EnvVars:  []string{"REDDIT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:     "reddit-client-secret",
			Required: true,
			EnvVars:  []string{"REDDIT_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:     "reddit-username",
			Required: true,
			EnvVars:  []string{"REDDIT_USERNAME"},
		},
		&cli.StringFlag{
			Name:     "reddit-password",
			Required: true,
			EnvVars:  []string{"REDDIT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "reddit-backup-username",
			Usage:   "second account, for actions the main account may not take",
			EnvVars: []string{"REDDIT_BACKUP_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "reddit-backup-password",
			EnvVars: []string{"REDDIT_BACKUP_PASSWORD"},
		},
		&cli.Float64Flag{
			Name:    "platform-rate-limit",
			Usage:   "max requests per second to the platform API, per account",
			Value:   reddit.DefaultRateLimit,
			EnvVars: []string{"MODBOT_PLATFORM_RATE_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stdout)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing := configOTEL(ctx, "modbot")
		defer shutdownTracing()

		config := Config{
			DatabaseURL:       cctx.String("database-url"),
			MaxDBConnections:  cctx.Int("max-db-connections"),
			DBTracing:         cctx.Bool("db-tracing"),
			RedisURL:          cctx.String("redis-url"),
			CommunitiesConfig: cctx.String("communities-config"),
			SetsFileJSON:      cctx.String("sets-file"),
			WebhookURL:        cctx.String("webhook-url"),
			DryRun:            cctx.Bool("dry-run"),
			RateLimit:         cctx.Float64("platform-rate-limit"),
			Logger:            logger,
			Creds: reddit.Credentials{
				ClientID:     cctx.String("reddit-client-id"),
				ClientSecret: cctx.String("reddit-client-secret"),
				Username:     cctx.String("reddit-username"),
				Password:     cctx.String("reddit-password"),
			},
		}
		if user := cctx.String("reddit-backup-username"); user != "" {
			config.BackupCreds = &reddit.Credentials{
				ClientID:     cctx.String("reddit-client-id"),
				ClientSecret: cctx.String("reddit-client-secret"),
				Username:     user,
				Password:     cctx.String("reddit-backup-password"),
			}
		}

		srv, err := NewServer(ctx, config)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx, cctx.Duration("loop-period"), cctx.Bool("once")); err != nil {
			return fmt.Errorf("failed to run modbot: %w", err)
		}
		return nil
	},
}
