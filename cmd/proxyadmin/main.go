package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mixproxy/proxyadmin/internal/admin"
	"github.com/mixproxy/proxyadmin/internal/client"
	"github.com/mixproxy/proxyadmin/internal/config"
	"github.com/mixproxy/proxyadmin/internal/lists"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/metrics"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"github.com/mixproxy/proxyadmin/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/proxyadmin.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateFile := flag.String("validate", "", "Validate a proxy config document and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxyadmin %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateFile != "" {
		os.Exit(validateDocument(*validateFile, cfg.Store.StrictTotalCapacity))
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting proxyadmin",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("store", cfg.Store.Path),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	if err := run(cfg); err != nil {
		logging.Error("Shutdown error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("proxyadmin stopped")
}

func validateDocument(path string, strict bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		return 1
	}
	doc, err := proxyconfig.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	vs := proxyconfig.Validator{StrictTotalCapacity: strict}.Validate(doc)
	if len(vs) == 0 {
		fmt.Println("Configuration is valid")
		return 0
	}
	for _, msg := range vs.Messages() {
		fmt.Println(msg)
	}
	return 1
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fs := store.NewFileStore(cfg.Store.Path)
	if cfg.Store.Create.Enabled {
		initial := proxyconfig.Config{
			Hostname:       cfg.Store.Create.Hostname,
			AdminSubdomain: cfg.Store.Create.AdminSubdomain,
			HTTPS:          cfg.Store.Create.HTTPS,
			DeveloperMode:  cfg.Store.Create.DeveloperMode,
		}
		if _, err := fs.Init(initial); err != nil {
			return err
		}
	}

	listStore, closeLists := openLists(ctx, cfg.Redis)
	defer closeLists()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(reg)

	svc := service.New(fs, fs, listStore, service.Options{
		StrictTotalCapacity: cfg.Store.StrictTotalCapacity,
		Metrics:             m,
	})

	var notifier admin.Notifier
	if cfg.Proxy.ReloadURL != "" {
		notifier = client.NewProxyNotifier(cfg.Proxy.ReloadURL, cfg.Proxy.Timeout)
	}
	reloader := admin.NewReloader(fs, svc.Validate, notifier, m, cfg.Admin.ReloadHistory)

	opts := admin.Options{
		Service:     svc,
		Source:      fs,
		Lists:       listStore,
		Reloader:    reloader,
		CORSOrigins: cfg.Admin.CORSOrigins,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = reg
		opts.MetricsPath = cfg.Metrics.Path
	}
	srv := &http.Server{
		Addr:         cfg.Admin.Listen,
		Handler:      admin.New(opts).Handler(),
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		IdleTimeout:  cfg.Admin.IdleTimeout,
	}

	if result := reloader.Reload(ctx); !result.Success {
		logging.Warn("Initial config is not applied", zap.String("error", result.Error))
	}

	if cfg.Store.Watch {
		w, err := store.NewWatcher(fs, cfg.Store.Debounce)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(func(c proxyconfig.Config) {
			reloader.Apply(ctx, c)
		})
		if err := w.Start(); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Admin API listening", zap.String("address", cfg.Admin.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openLists connects to Redis when enabled and falls back to an in-memory
// store otherwise.
func openLists(ctx context.Context, cfg config.RedisConfig) (lists.Store, func()) {
	if !cfg.Enabled {
		logging.Warn("Redis disabled, list state is kept in memory")
		return lists.NewMemoryStore(), func() {}
	}

	open := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:        cfg.Address,
			Password:    cfg.Password,
			DB:          db,
			DialTimeout: cfg.DialTimeout,
		})
	}
	rs := lists.NewRedisStore(open(cfg.WhitelistDB), open(cfg.BlacklistDB))
	if err := rs.Ping(ctx); err != nil {
		logging.Warn("Redis not reachable, list endpoints will fail until it is", zap.String("address", cfg.Address), zap.Error(err))
	}
	return rs, func() { rs.Close() }
}
