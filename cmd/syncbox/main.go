package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/kanbanhq/syncbox/internal/api"
	"github.com/kanbanhq/syncbox/internal/cache"
	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/netstate"
	"github.com/kanbanhq/syncbox/internal/notify"
	"github.com/kanbanhq/syncbox/internal/proxy"
	"github.com/kanbanhq/syncbox/internal/push"
	"github.com/kanbanhq/syncbox/internal/queue"
	"github.com/kanbanhq/syncbox/internal/strategy"
	"github.com/kanbanhq/syncbox/internal/syncer"
	"github.com/kanbanhq/syncbox/internal/webpush"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	Cache       *cache.Manager
	Queue       *queue.Queue
	Monitor     *netstate.Monitor
	Classifier  *strategy.Classifier
	Executor    *strategy.Executor
	Coordinator *syncer.Coordinator
	Dispatcher  *notify.Dispatcher
	Hub         *api.Hub
	PushSource  *push.Source // nil unless push is enabled
	Control     *api.Server
	Proxy       *proxy.Server

	proxyHandler *proxy.Handler
	httpContext  context.Context
	httpCancel   context.CancelFunc
}

func main() {
	os.Exit(run())
}

func run() int {
	// Check for subcommands (look through all args, not just first)
	configPath := "syncbox.json"
	var subCmd string
	var subCmdIdx int

	// First pass: find config flag
	skipNext := false
	for i := 1; i < len(os.Args); i++ {
		if skipNext {
			skipNext = false
			continue
		}
		arg := os.Args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				skipNext = true
			}
		}
	}

	// Second pass: find subcommand (first non-flag, non-flag-value arg)
	skipNext = false
	for i := 1; i < len(os.Args); i++ {
		if skipNext {
			skipNext = false
			continue
		}
		arg := os.Args[i]

		// Skip known flag patterns
		if arg == "--config" || arg == "-config" || arg == "--version" || arg == "-version" {
			if arg == "--config" || arg == "-config" {
				skipNext = true
			}
			continue
		}

		// This must be a subcommand or positional arg
		if len(arg) > 0 && arg[0] != '-' {
			subCmd = arg
			subCmdIdx = i
			break
		}
	}

	// Handle subcommands
	if subCmd != "" {
		switch subCmd {
		case "service":
			// Daemon lifecycle management
			if err := runServiceCommand(configPath, os.Args[subCmdIdx+1:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			return 0
		case "start":
			// Explicit start subcommand; falls through to normal daemon start below
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subCmd)
			fmt.Fprintln(os.Stderr, "Available commands: start, service")
			return 1
		}
	}

	// No subcommand - parse as normal daemon start
	fs := flag.NewFlagSet("syncbox", flag.ExitOnError)
	configPathFlag := fs.String("config", "syncbox.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Printf("Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("syncbox v%s (built %s)\n", version, buildTime)
		fmt.Println("Offline cache and sync sidecar for KanbanHQ")
		fmt.Println("https://github.com/kanbanhq/syncbox")
		return 0
	}

	// Use the config path from flag if provided
	if *configPathFlag != "syncbox.json" {
		configPath = *configPathFlag
	}

	// Setup application
	app, err := setup(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	// Start services
	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	// Print banner
	printBanner(app)

	// Wait for shutdown
	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}

	return 0
}

// setup initializes all application components
func setup(configPath string) (*App, error) {
	app := &App{ConfigPath: configPath, LogLevel: new(slog.LevelVar)}

	// Setup logger (initially at Info level; the level variable tracks
	// config reloads)
	app.LogLevel.Set(slog.LevelInfo)
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: app.LogLevel,
	}))

	app.Logger.Info("starting syncbox",
		"version", version,
		"config", configPath,
	)

	// Load config
	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg
	app.LogLevel.Set(parseLogLevel(cfg.Logging.Level))

	// Cache store
	backend, err := openBackend(cfg, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open cache backend: %w", err)
	}
	app.Cache = cache.NewManager(backend, namespaces(cfg), app.Logger)

	// Connectivity monitor feeds the fetcher's outcomes and the host signal
	probeEvery := time.Duration(cfg.Sync.ProbeIntervalSec) * time.Second
	app.Monitor = netstate.NewMonitor(cfg.Proxy.Origin, probeEvery, app.Logger)
	fetcher := strategy.NewHTTPFetcher(app.Monitor)

	// Durable offline action queue
	app.Queue, err = queue.Open(cfg.Queue.Path, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// Request classification and strategy execution
	app.Classifier = strategy.NewClassifier(app.Logger)
	if cfg.RulesPath != "" {
		if err := app.Classifier.ExtendFromFile(cfg.RulesPath); err != nil {
			return nil, fmt.Errorf("load ruleset: %w", err)
		}
	}
	app.Executor = strategy.NewExecutor(app.Cache, fetcher, app.Queue, app.Monitor, cfg.Proxy.OfflinePage, app.Logger)

	// Sync coordinator replays the queue; reconnects trigger a drain
	app.Coordinator, err = syncer.NewCoordinator(app.Queue, fetcher, cfg.Sync.Schedule, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create sync coordinator: %w", err)
	}
	app.Monitor.Subscribe(app.Coordinator.OnNetworkChange)

	// Event hub doubles as the registry of open client views
	app.Hub = api.NewHub(app.Logger)
	app.Monitor.Subscribe(func(online bool) {
		app.Hub.Broadcast(api.Event{Type: "netstate", Payload: map[string]bool{"online": online}})
	})
	app.Coordinator.Subscribe(func(pass syncer.PassResult) {
		app.Hub.Broadcast(api.Event{Type: "sync", Payload: pass})
	})

	// Notification pipeline
	templates, err := notify.NewRegistry(cfg.Notifications.TemplatesPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load notification templates: %w", err)
	}
	app.Dispatcher = notify.NewDispatcher(templates, app.Cache, app.Hub, cfg.Notifications, app.Logger)
	app.Dispatcher.Subscribe(func(n notify.Notification) {
		app.Hub.Broadcast(api.Event{Type: "notification", Payload: n})
	})

	// Push source (optional)
	if cfg.Push.Enabled {
		var sub *webpush.Subscription
		if cfg.Push.Encryption == "aes128gcm" {
			endpoint := cfg.Push.Broker + "/" + cfg.Push.Topic
			sub, err = webpush.LoadOrGenerate(cfg.Push.SubscriptionPath, endpoint, app.Logger)
			if err != nil {
				return nil, fmt.Errorf("load push subscription: %w", err)
			}
		}
		app.PushSource = push.NewSource(cfg.Push, sub, func(raw []byte) {
			if _, err := app.Dispatcher.Dispatch(raw); err != nil {
				app.Logger.Warn("push message dropped", "error", err)
			}
		}, app.Logger)
	}

	// Control API and interception proxy
	app.Control = api.NewServer(cfg.Control.Listen, app.Cache, app.Queue, app.Coordinator, app.Monitor, app.Dispatcher, app.Hub, app.Logger)
	app.proxyHandler, err = proxy.NewHandler(cfg.Proxy.Origin, app.Classifier, app.Executor, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	app.Proxy = proxy.NewServer(cfg.Proxy.Listen, app.proxyHandler, app.Logger)

	return app, nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			if err := config.DefaultConfig().Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return config.Load(path)
		}
		return nil, err
	}
	return cfg, nil
}

// reloadConfig re-reads the config file and applies the hot sections: log
// level and notification preferences. Everything else waits for a restart.
func reloadConfig(app *App) {
	app.Logger.Info("reload signal received", "config", app.ConfigPath)

	result, err := app.Config.Reload(app.ConfigPath)
	if err != nil {
		app.Logger.Error("config reload failed", "error", err)
		return
	}

	app.LogLevel.Set(parseLogLevel(app.Config.Logging.Level))
	app.Dispatcher.UpdateConfig(app.Config.Notifications)

	app.Logger.Info("config reloaded",
		"changed", result.Changed,
		"applied", result.Applied,
		"restartOnly", result.Skipped,
	)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openBackend picks the cache store named by the config.
func openBackend(cfg *config.Config, logger *slog.Logger) (cache.Backend, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryBackend(), nil
	case "leveldb":
		return cache.NewLevelBackend(cfg.Cache.Path, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// namespaces flattens the configured namespace map into the fixed partition
// list the cache manager is built with.
func namespaces(cfg *config.Config) []cache.Namespace {
	names := make([]string, 0, len(cfg.Cache.Namespaces))
	for name := range cfg.Cache.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)

	spaces := make([]cache.Namespace, 0, len(names))
	for _, name := range names {
		ns := cfg.Cache.Namespaces[name]
		spaces = append(spaces, cache.Namespace{
			Name:       name,
			MaxEntries: ns.MaxEntries,
			TTL:        ns.TTL(),
		})
	}
	return spaces
}

// startServices starts all services
func startServices(app *App) error {
	if err := app.Cache.Start(); err != nil {
		return fmt.Errorf("start cache: %w", err)
	}
	if err := app.Monitor.Start(); err != nil {
		return fmt.Errorf("start connectivity monitor: %w", err)
	}
	if err := app.Coordinator.Start(); err != nil {
		return fmt.Errorf("start sync coordinator: %w", err)
	}

	// Push is best effort: a dead broker must not keep the cache and queue
	// from serving.
	if app.PushSource != nil {
		if err := app.PushSource.Start(); err != nil {
			app.Logger.Warn("push source unavailable", "error", err)
			app.PushSource = nil
		}
	}

	// Start HTTP surfaces in background
	app.httpContext, app.httpCancel = context.WithCancel(context.Background())
	go func() {
		if err := app.Control.Start(app.httpContext); err != nil {
			app.Logger.Error("control server error", "error", err)
		}
	}()
	go func() {
		if err := app.Proxy.Start(app.httpContext); err != nil {
			app.Logger.Error("proxy server error", "error", err)
		}
	}()

	// Warm the app shell without delaying startup
	if len(app.Config.Proxy.Precache) > 0 {
		go app.proxyHandler.Precache(app.httpContext, app.Config.Proxy.Precache)
	}

	return nil
}

// printBanner displays the startup banner
func printBanner(app *App) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════╗")
	fmt.Println("  ║        📦 syncbox v" + version + "             ║")
	fmt.Println("  ║  Offline cache & sync for KanbanHQ    ║")
	fmt.Println("  ║  Works offline. Syncs when it can.    ║")
	fmt.Println("  ╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  🌐 Proxy:   http://%s (origin %s)\n", app.Config.Proxy.Listen, app.Config.Proxy.Origin)
	fmt.Printf("  🎛️  Control: http://%s\n", app.Config.Control.Listen)
	fmt.Printf("  🗂️  Cache:   %s, %d namespaces\n", app.Config.Cache.Backend, len(app.Cache.Namespaces()))
	fmt.Printf("  📬 Queue:   %s\n", app.Config.Queue.Path)
	if app.PushSource != nil {
		fmt.Printf("  🔔 Push:    %s\n", app.Config.Push.Broker)
	}
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)

	for {
		sig := <-sigCh

		// Handle platform-specific signals (SIGHUP, SIGUSR1 on Unix)
		if handlePlatformSignal(sig, app) {
			continue
		}

		// SIGINT or SIGTERM - proceed to shutdown
		app.Logger.Info("shutdown signal received", "signal", sig)
		break
	}

	// Stop intake first: no new requests while the rest winds down
	if app.httpCancel != nil {
		app.httpCancel()
	}
	if app.PushSource != nil {
		app.PushSource.Stop()
	}

	// Then the background machinery, writers before their stores
	app.Coordinator.Stop()
	app.Monitor.Stop()
	app.Executor.Close()
	app.Cache.Stop()
	if err := app.Queue.Close(); err != nil {
		app.Logger.Error("failed to close queue", "error", err)
	}

	app.Logger.Info("syncbox stopped")
	return nil
}
