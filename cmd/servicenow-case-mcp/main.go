// ServiceNow Case MCP server
//
// A standalone Go binary that exposes ServiceNow Customer Service cases
// (sn_customerservice_case) to language-model agents over the Model Context
// Protocol.
//
// # Usage
//
//	servicenow-case-mcp [flags]
//
//	Flags:
//	  -config string      Path to config YAML file (optional; environment only when empty)
//	  -transport string   Override mcp.transport: stdio or http
//	  -version            Print version information and exit
//
// # Architecture
//
// The server starts the following components based on configuration:
//
//  1. Observability server (unless disabled): /healthz, /readyz, /metrics
//  2. ServiceNow HTTP client with authentication
//  3. Case event publisher (if events.enabled): Kafka producer
//  4. MCP server over stdio (one session) or streamable HTTP
//
// All components are managed via errgroup for coordinated lifecycle. Logs
// are written to stderr because the stdio transport owns stdout.
//
// # Signal Handling
//
//	SIGINT/SIGTERM → Cancel context → MCP server and observability stop → Exit
//
// Over HTTP the config file is watched and a change restarts the server with
// the new configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/events"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/mcpserver"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/observability"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/servicenow"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type options struct {
	configPath string
	transport  string
}

func main() {
	// Parse command-line flags.
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration YAML file")
	flag.StringVar(&opts.transport, "transport", "", "MCP transport (stdio or http); overrides the config file")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("servicenow-case-mcp %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("failed to load configuration", "path", opts.configPath, "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting servicenow-case-mcp",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"transport", cfg.MCP.Transport,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A stdio session cannot be restarted underneath the host.
	if cfg.MCP.Transport != config.TransportHTTP || opts.configPath == "" {
		if err := run(ctx, cfg, logger); err != nil {
			logger.Error("server exited with error", "error", err)
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
		return
	}

	reloadCh := make(chan struct{}, 1)
	go watchConfig(ctx, opts.configPath, reloadCh, logger)

	for {
		runCtx, runCancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func(cfg *config.Config) {
			errCh <- run(runCtx, cfg, logger)
		}(cfg)

	wait:
		for {
			select {
			case <-ctx.Done():
				logger.Info("received shutdown signal")
				runCancel()
				<-errCh
				logger.Info("server shutdown complete")
				return

			case <-reloadCh:
				next, err := loadConfig(opts)
				if err != nil {
					logger.Error("ignoring invalid configuration change", "error", err)
					continue
				}
				logger.Info("reloading configuration")
				runCancel()
				if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("previous run exited with error on reload", "error", err)
				}
				cfg = next
				logger = newLogger(cfg.LogLevel)
				slog.SetDefault(logger)
				logger.Info("restarting with new configuration")
				break wait

			case err := <-errCh:
				runCancel()
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("server exited with error", "error", err)
					os.Exit(1)
				}
				logger.Info("server shutdown complete")
				return
			}
		}
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.transport != "" {
		cfg.MCP.Transport = opts.transport
		if cfg.MCP.Transport != config.TransportStdio && cfg.MCP.Transport != config.TransportHTTP {
			return nil, fmt.Errorf("-transport must be 'stdio' or 'http', got %q", opts.transport)
		}
	}
	return cfg, nil
}

// newLogger writes JSON logs to stderr at the given level.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// watchConfig uses fsnotify to watch the config file for changes.
func watchConfig(ctx context.Context, path string, reloadCh chan<- struct{}, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		logger.Error("failed to watch config file", "path", path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Some editors replace the file instead of writing it.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("config file changed", "event", event.Name)
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

// run wires all components for one configuration and blocks until ctx is
// cancelled or the MCP session ends.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. ServiceNow authentication and HTTP client.
	auth, err := servicenow.NewAuthenticator(ctx, cfg.ServiceNow, logger)
	if err != nil {
		return fmt.Errorf("initializing authenticator: %w", err)
	}
	defer auth.Close()

	var clientOpts []servicenow.ClientOption
	if cfg.ServiceNow.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, servicenow.WithRateLimiter(cfg.ServiceNow.RateLimitRPS))
	}
	snClient := servicenow.NewClient(cfg.ServiceNow, auth, logger, clientOpts...)
	defer snClient.Close()

	// 2. Case event publisher.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("creating case event publisher: %w", err)
		}
		publisher = kp
	}
	defer publisher.Close()

	// 3. Operation registry, translator and MCP server.
	registry, err := cases.NewCatalog()
	if err != nil {
		return err
	}
	translator := cases.NewTranslator(snClient, cfg.Cases, logger, cases.WithPublisher(publisher))
	mcpSrv, err := mcpserver.New(registry, translator, cfg.MCP, version, logger)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	// 4. Use errgroup for coordinated goroutine lifecycle.
	g, gCtx := errgroup.WithContext(ctx)

	var obsSrv *observability.Server
	if !cfg.Observability.Disabled {
		obsSrv = observability.NewServer(cfg.Observability.Addr, logger)
		defer obsSrv.SetReady(false)
		g.Go(func() error {
			return obsSrv.Start(gCtx)
		})
	}

	g.Go(func() error {
		// The stdio session ending stops everything else.
		defer cancel()
		if cfg.MCP.Transport == config.TransportHTTP {
			return mcpSrv.ServeHTTP(gCtx, cfg.MCP.HTTPAddr)
		}
		return mcpSrv.RunStdio(gCtx)
	})

	if obsSrv != nil {
		obsSrv.SetReady(true)
	}
	logger.Info("server is ready",
		"transport", cfg.MCP.Transport,
		"tool_package", mcpSrv.ToolPackage(),
		"events_enabled", cfg.Events.Enabled,
		"observability_addr", cfg.Observability.Addr,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
