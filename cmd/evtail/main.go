package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"eventsource/internal/app"
	"eventsource/internal/config"
)

var (
	configFile  = flag.String("config", "", "config file path")
	streamURL   = flag.String("url", "", "event stream URL (overrides config)")
	logLevel    = flag.String("log-level", "", "log level (overrides config)")
	metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	watch       = flag.Bool("watch", false, "restart the subscription when the config file changes")
)

func main() {
	flag.Parse()

	// Early setup so config-load failures are logged; reconfigured below
	// once the config-file level is known.
	setupLogging(*logLevel)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	reloadCh := make(chan *config.Config, 1)
	if *watch && *configFile != "" {
		watcher, err := startWatcher(reloadCh)
		if err != nil {
			slog.Error("failed to watch config", "error", err)
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	if err := run(ctx, cfg, reloadCh); err != nil {
		slog.Error("evtail failed", "error", err)
		os.Exit(1)
	}
}

// run starts the subscription and restarts it whenever a reloaded config
// arrives. It returns when the subscription terminates or on signal.
func run(ctx context.Context, cfg *config.Config, reloadCh <-chan *config.Config) error {
	for {
		a, err := app.New(cfg, os.Stdout, slog.Default())
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return stop(a)

		case <-a.Client().Done():
			// Terminal on its own: fatal response, no-content, or Close.
			return stop(a)

		case newCfg := <-reloadCh:
			slog.Info("config changed, restarting subscription")
			if err := stop(a); err != nil {
				slog.Warn("error stopping subscription", "error", err)
			}
			cfg = newCfg
		}
	}
}

func stop(a *app.App) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

// loadConfig layers the embedded defaults, the config file, environment
// variables and command-line flags.
func loadConfig() (*config.Config, error) {
	return config.NewLoader(*configFile).
		WithOverrides(applyFlags).
		Load()
}

// applyFlags maps command-line flags onto the configuration
func applyFlags(cfg *config.Config) {
	if *streamURL != "" {
		cfg.Stream.URL = *streamURL
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
}

func startWatcher(reloadCh chan<- *config.Config) (*config.Watcher, error) {
	wc := config.DefaultWatcherConfig()
	wc.OnChange = func(newCfg *config.Config) error {
		// Flag overrides survive a reload.
		applyFlags(newCfg)
		select {
		case reloadCh <- newCfg:
		default:
		}
		return nil
	}
	wc.OnError = func(err error) {
		slog.Warn("config reload failed", "error", err)
	}

	watcher, err := config.NewWatcher(*configFile, wc, slog.Default())
	if err != nil {
		return nil, err
	}
	watcher.Start()
	return watcher, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(level string) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})))
}
