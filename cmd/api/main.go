package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/z-chat/backend/internal/config"
)

// Populated at build-time via -ldflags.
var version = "dev"

// Flags carries global options and the configuration loaded in Before.
type Flags struct {
	LogLevel  string
	LogFormat string
	EnvFile   string

	Config *config.Config
}

func main() {
	if err := setupLogger("info", "console"); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &Flags{}

	app := &cli.Command{
		Name:    "z-chat",
		Usage:   "Real-time chat backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log output format (console, json)",
				Sources:     cli.EnvVars("LOG_FORMAT"),
				Value:       "console",
				Destination: &flags.LogFormat,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file loaded before reading configuration",
				Sources:     cli.EnvVars("ENV_FILE"),
				Value:       ".env",
				Destination: &flags.EnvFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			envErr := godotenv.Load(flags.EnvFile)

			// the dotenv file may carry logging settings the flags could not see yet
			level, format := flags.LogLevel, flags.LogFormat
			if v := os.Getenv("LOG_LEVEL"); v != "" && !c.IsSet("log-level") {
				level = v
			}
			if v := os.Getenv("LOG_FORMAT"); v != "" && !c.IsSet("log-format") {
				format = v
			}
			if err := setupLogger(level, format); err != nil {
				return ctx, err
			}

			if envErr != nil {
				log.Warn().Err(envErr).Str("file", flags.EnvFile).Msg("failed to load env file, continuing with system environment variables only")
			}

			cfg, err := config.Load()
			if err != nil {
				return ctx, fmt.Errorf("load configuration: %w", err)
			}
			flags.Config = cfg
			return ctx, nil
		},
	}

	serve := NewServeCmd(flags)
	app = serve.Register(app)
	app = NewMessagesCmd(flags).Register(app)

	// No subcommand means serve.
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'z-chat --help' for usage", c.Args().First())
		}
		return serve.run(ctx, c)
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("exiting")
		stop()
		os.Exit(1)
	}
}

func setupLogger(level, format string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer
	switch format {
	case "json":
		output = os.Stderr
	case "console", "":
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}
