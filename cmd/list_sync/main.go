// Package main implements the list_sync binary which keeps lists of a members
// API in sync with an ingestion API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/destination"
	"github.com/cybertec-postgresql/list_sync/internal/log"
	"github.com/cybertec-postgresql/list_sync/internal/metrics"
	"github.com/cybertec-postgresql/list_sync/internal/schedule"
	"github.com/cybertec-postgresql/list_sync/internal/source"
	"github.com/cybertec-postgresql/list_sync/internal/state"
	"github.com/cybertec-postgresql/list_sync/internal/sync"
	"github.com/cybertec-postgresql/list_sync/internal/transport"
)

// Config holds the application configuration
type Config struct {
	State             string        `short:"s" env:"LIST_SYNC_STATE" long:"state" description:"State location: JSON file path, postgres:// or etcd:// DSN" default:"state/state.json"`
	SourceURL         string        `env:"LIST_SYNC_SOURCE_URL" long:"source-url" description:"Members API base URL" default:"https://us9.api.mailchimp.com/3.0"`
	SourceAPIKey      string        `env:"LIST_SYNC_SOURCE_API_KEY" long:"source-api-key" description:"Members API key"`
	DestinationURL    string        `env:"LIST_SYNC_DESTINATION_URL" long:"destination-url" description:"Ingestion API endpoint"`
	DestinationAPIKey string        `env:"LIST_SYNC_DESTINATION_API_KEY" long:"destination-api-key" description:"Ingestion API key"`
	LogLevel          string        `short:"l" env:"LIST_SYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	CheckInterval     time.Duration `env:"LIST_SYNC_CHECK_INTERVAL" long:"check-interval" description:"Pause between two passes over all lists" default:"60s"`
	Staleness         time.Duration `env:"LIST_SYNC_STALENESS" long:"staleness" description:"Age of the last successful run after which a list is synced again" default:"2h"`
	QuitFile          string        `env:"LIST_SYNC_QUIT_FILE" long:"quit-file" description:"Stop after the current pause when this file exists" default:"state/controller.quit"`
	HTTPTimeout       time.Duration `env:"LIST_SYNC_HTTP_TIMEOUT" long:"http-timeout" description:"Timeout of a single API request" default:"30s"`
	InsecureTLS       bool          `env:"LIST_SYNC_INSECURE_SKIP_VERIFY" long:"insecure-skip-verify" description:"Disable TLS certificate and hostname verification"`
	IOConcurrency     int           `env:"LIST_SYNC_IO_CONCURRENCY" long:"io-concurrency" description:"API calls in flight per run, 0 means two per worker" default:"0"`
	MetricsListen     string        `env:"LIST_SYNC_METRICS_LISTEN" long:"metrics-listen" description:"Address to serve /metrics on, disabled when empty"`
	Once              bool          `long:"once" description:"Make a single pass over all lists and exit"`
	Version           bool          `short:"v" long:"version" description:"Show version information"`
	Help              bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	if cmdOpts.IOConcurrency < 0 {
		return cmdOpts, fmt.Errorf("--io-concurrency must not be negative")
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("list_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("list_sync logging initialized")
	return nil
}

// SetupCloseHandler cancels the root context on SIGINT or SIGTERM. A run in
// progress is abandoned and its state is not recorded.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		logrus.WithField("signal", sig.String()).Warn("Exiting on signal...")
		cancel()
	}()
}

// NewEngine builds the API clients and the sync engine from the configuration
func NewEngine(cfg *Config, m *metrics.Metrics) (*sync.Engine, error) {
	httpCfg := transport.Config{Timeout: cfg.HTTPTimeout, InsecureSkipVerify: cfg.InsecureTLS}

	src, err := source.New(source.Config{BaseURL: cfg.SourceURL, APIKey: cfg.SourceAPIKey, HTTP: httpCfg})
	if err != nil {
		return nil, err
	}
	dst, err := destination.New(destination.Config{URL: cfg.DestinationURL, APIKey: cfg.DestinationAPIKey, HTTP: httpCfg})
	if err != nil {
		return nil, err
	}
	return sync.NewEngine(src, dst,
		sync.WithIOConcurrency(cfg.IOConcurrency),
		sync.WithMetrics(m),
	), nil
}

// RunController checks the lists of store until ctx is cancelled or the quit
// file appears, and closes store before returning. Errors caused by the
// cancellation of ctx are not reported.
func RunController(ctx context.Context, store state.Store, runner schedule.Runner, cfg Config) error {
	controller := schedule.NewController(store, runner, schedule.Config{
		CheckInterval: cfg.CheckInterval,
		Staleness:     cfg.Staleness,
		QuitFile:      cfg.QuitFile,
		Once:          cfg.Once,
	})
	err := controller.Start(ctx)
	if closeErr := store.Close(); closeErr != nil {
		logrus.WithError(closeErr).Warn("Failed to close state")
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to register metrics")
	}
	if config.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, config.MetricsListen, metrics.NewRouter(reg)); err != nil {
				logrus.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	engine, err := NewEngine(config, m)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid API configuration")
	}

	store, err := state.Open(ctx, config.State)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open state")
	}

	if err := RunController(ctx, store, engine, config); err != nil {
		logrus.WithError(err).Fatal("Controller failed")
	}

	logrus.Info("Graceful shutdown completed")
}
