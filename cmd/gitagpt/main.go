package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/logging"
	"github.com/xhad/gitagpt/pkg/config"
)

const version = "1.0.0"

type configKey struct{}

func main() {
	cmd := &cli.Command{
		Name:    "gitagpt",
		Usage:   "Converse with Śrī Kṛṣṇa, grounded in the Bhagavad-gītā",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to config file",
				Sources: cli.EnvVars("GITAGPT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Override log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			ingestCommand(),
			serveCommand(),
			chatCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

// setup loads the configuration and installs the global logger.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return ctx, err
	}

	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return ctx, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return ctx, err
	}

	zap.ReplaceGlobals(log)

	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}

	cfg, _ := config.LoadConfig("")
	return cfg
}
