package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmbridge/config"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/logger"
	"github.com/aschepis/backscratcher/llmbridge/transport"
)

type rootOptions struct {
	configPath string
	envFile    string
	provider   string
	model      string
	logFile    string
	logLevel   string
	pretty     bool
	metrics    bool
}

// commandContext lazily builds the shared client stack for subcommands.
type commandContext struct {
	opts *rootOptions

	once     sync.Once
	err      error
	cfg      *config.Config
	logger   zerolog.Logger
	gatherer *prometheus.Registry
	conn     *transport.Connection
	registry *llm.ProviderRegistry
}

func newCommandContext(opts *rootOptions) *commandContext {
	return &commandContext{opts: opts, logger: zerolog.Nop()}
}

func (c *commandContext) ensure() error {
	c.once.Do(func() {
		c.err = c.build()
	})
	return c.err
}

func (c *commandContext) build() error {
	if c.opts.logFile != "" && c.opts.pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	if envFile := strings.TrimSpace(c.opts.envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	path := strings.TrimSpace(c.opts.configPath)
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg

	logFile := c.opts.logFile
	if logFile == "" {
		logFile = cfg.Log.File
	}
	level := c.opts.logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	log, err := logger.InitWithOptions(logFile, c.opts.pretty || (cfg.Log.Pretty && logFile == ""), level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = log
	c.logger.Debug().Str("config", path).Msg("Loaded configuration")

	c.gatherer = prometheus.NewRegistry()
	c.conn = config.NewConnection(cfg, c.logger, transport.NewMetrics(c.gatherer))

	registry, err := config.BuildRegistry(cfg, c.conn, c.logger)
	if err != nil {
		return err
	}
	c.registry = registry
	return nil
}

// resolve picks the provider for this invocation. --provider bypasses the
// configured preference list; --model overrides whichever model was chosen.
func (c *commandContext) resolve() (*llm.Resolution, error) {
	prefs := c.cfg.Preferences()
	if c.opts.provider != "" {
		prefs = []llm.Preference{{Provider: c.opts.provider}}
	}
	res, err := c.registry.Resolve(prefs)
	if err != nil {
		return nil, err
	}
	if c.opts.model != "" {
		res.Model = c.opts.model
	}
	c.logger.Debug().
		Str("provider", res.Name).
		Str("model", res.Model).
		Msg("Resolved provider")
	return res, nil
}

func (c *commandContext) printMetrics(out io.Writer) error {
	if c.gatherer == nil {
		return nil
	}
	families, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(out, family); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
