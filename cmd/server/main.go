package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"offline-sync-service/internal/api"
	"offline-sync-service/internal/auth"
	"offline-sync-service/internal/cache"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/database"
	"offline-sync-service/internal/interceptor"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/notify"
	"offline-sync-service/internal/queue"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

type options struct {
	Config  string `short:"c" long:"config" description:"path to the config file" default:"config.yaml"`
	NoSched bool   `long:"no-scheduler" description:"disable timer-driven sync and probes"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Load Config
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Offline Sync Service", zap.String("upstream", cfg.Upstream.BaseURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init State Store
	stateStore, err := openStateStore(ctx, cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Cache stores; anything left over from an older version is reclaimed.
	caches := cache.NewManager(stateStore)
	staticStore, err := caches.Open(ctx, cfg.Cache.StaticName, cfg.Cache.Version)
	if err != nil {
		logger.Log.Fatal("Failed to open static cache", zap.Error(err))
	}
	apiStore, err := caches.Open(ctx, cfg.Cache.APIName, cfg.Cache.Version)
	if err != nil {
		logger.Log.Fatal("Failed to open api cache", zap.Error(err))
	}
	caches.DeleteStoresNotMatching(ctx, []string{staticStore.ID(), apiStore.ID()})

	pending := queue.New(stateStore, cfg.Queue.StorageKey)
	if err := pending.Load(ctx); err != nil {
		logger.Log.Fatal("Failed to load pending actions", zap.Error(err))
	}
	logger.Log.Info("Loaded pending actions", zap.Int("count", pending.Size()))

	monitor := connectivity.NewMonitor(cfg.Connectivity.StartOnline)
	probeURL := cfg.Connectivity.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Upstream.BaseURL
	}
	prober := connectivity.NewProber(monitor, http.DefaultTransport, probeURL, cfg.Connectivity.GetProbeTimeout())

	authorizer, err := auth.New(cfg.Auth)
	if err != nil {
		logger.Log.Fatal("Failed to init authorizer", zap.Error(err))
	}

	icpt := interceptor.New(interceptor.Options{
		Transport:    http.DefaultTransport,
		Cache:        caches,
		StaticStore:  staticStore,
		APIStore:     apiStore,
		Queue:        pending,
		Connectivity: monitor,
		Authorizer:   authorizer,
		APIPrefix:    cfg.Upstream.APIPrefix,
		OfflinePage:  cfg.Cache.OfflinePage,
	})

	// Init Sync Coordinator
	var coordinator *sync.Coordinator
	notices := notify.NewDispatcher(notify.Options{
		DisplayInterval:       cfg.Notifications.GetDisplayInterval(),
		ActionDisplayInterval: cfg.Notifications.GetActionDisplayInterval(),
		Retry:                 func() bool { return coordinator.Trigger(sync.ReasonManual) },
		Open: func(n notify.Notice) {
			logger.Log.Info("Notice opened", zap.String("id", n.ID), zap.String("url", cfg.Upstream.BaseURL))
		},
	})
	coordinator = sync.NewCoordinator(sync.Options{
		Queue:       pending,
		Replayer:    sync.NewHTTPReplayer(http.DefaultTransport),
		Reporter:    notices,
		Online:      monitor.Online,
		BatchSize:   cfg.Sync.BatchSize,
		MaxAttempts: cfg.Sync.MaxAttempts,
		Cooldown:    cfg.Sync.GetCooldown(),
	})
	monitor.Subscribe(notices.OnConnectivityChange)
	monitor.Subscribe(coordinator.OnConnectivityChange)

	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("Sync coordinator stopped", zap.Error(err))
		}
	}()

	var scheduler *sync.Scheduler
	if !opts.NoSched {
		scheduler = sync.NewScheduler(cfg.Scheduler, cfg.Connectivity.ProbeInterval, coordinator, prober)
		if err := scheduler.Start(ctx); err != nil {
			logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	go func() {
		n := icpt.Precache(ctx, cfg.Upstream.BaseURL, cfg.Cache.Precache)
		logger.Log.Info("Precached static assets", zap.Int("stored", n), zap.Int("requested", len(cfg.Cache.Precache)))
	}()

	if pending.Size() > 0 && monitor.Online() {
		coordinator.Trigger(sync.ReasonManual)
	}

	// Init API
	upstream, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		logger.Log.Fatal("Invalid upstream URL", zap.Error(err))
	}
	handler := api.NewHandler(api.Options{
		Upstream:     upstream,
		Interceptor:  icpt,
		Coordinator:  coordinator,
		Queue:        pending,
		Connectivity: monitor,
		Notices:      notices,
		Authorizer:   authorizer,
		CorsOrigins:  cfg.Server.CorsOrigins,
	})
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	// Probes must be gone before the context they run under is cancelled.
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()
}

func openStateStore(ctx context.Context, cfg config.StateStorage) (store.Store, error) {
	if cfg.Type == "memory" {
		logger.Log.Warn("Using in-memory state store, pending actions will not survive a restart")
		return store.NewMemoryStore(), nil
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
