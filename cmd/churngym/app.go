package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/okian/churngym/internal/config"
	"github.com/okian/churngym/pkg/logger"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var version = "v0.0.1-default"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML config file",
		Sources: cli.EnvVars("CHURNGYM_CONFIG"),
	}

	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level [debug, info, warn, error] (overrides config)",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}

	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Path to the member CSV (overrides dataset_path)",
	}
)

// app carries what every command needs once the root Before hook ran.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	out    io.Writer
	format string
}

func newApp(out io.Writer) *cli.Command {
	a := &app{out: out, format: formatJSON, log: logger.Nop()}
	return &cli.Command{
		Name:    "churngym",
		Usage:   "Gym member churn features, training and risk predictions",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			configFlag,
			logLevelFlag,
			formatFlag,
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.featuresCmd(),
			a.trainCmd(),
			a.predictCmd(),
			a.serveCmd(),
			a.generateCmd(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	switch f := strings.ToLower(cmd.String(formatFlag.Name)); f {
	case formatJSON:
		a.format = formatJSON
	case formatYAML, "yml":
		a.format = formatYAML
	default:
		return ctx, fmt.Errorf("unknown output format %q", f)
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.LoadFrom(ctx, cmd.String(configFlag.Name))
	if err != nil {
		return ctx, err
	}
	if lvl := cmd.String(logLevelFlag.Name); lvl != "" {
		cfg.LogLevel = lvl
	}

	opts := []logger.Option{logger.WithFormat(cfg.LogFormat), logger.WithOutput(os.Stderr)}
	if cfg.LogFile != "" {
		opts = append(opts, logger.WithFile(cfg.LogFile))
	}
	if err := logger.InitWith(opts...); err != nil {
		return ctx, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.log = logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		a.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a.cfg = cfg
	return ctx, nil
}

func (a *app) encode(v any) error {
	if a.format == formatYAML {
		enc := yaml.NewEncoder(a.out)
		defer enc.Close()
		return enc.Encode(v)
	}
	e := json.NewEncoder(a.out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
