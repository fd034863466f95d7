package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tgqqbridge/internal/config"
	"tgqqbridge/internal/constants"
	"tgqqbridge/internal/database"
	"tgqqbridge/internal/delivery"
	"tgqqbridge/internal/filter"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/retry"
	"tgqqbridge/internal/service"
	"tgqqbridge/internal/stats"
	"tgqqbridge/internal/tracing"
	"tgqqbridge/pkg/onebot"
	"tgqqbridge/pkg/telegram"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message bodies)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("tgqqbridge %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting tgqqbridge")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	tracingManager := tracing.NewManager(cfg.Tracing, Version, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the mapping store with exponential backoff; the file may
	// be briefly locked by a previous instance during rolling restarts.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultDatabaseBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultDatabaseMaxBackoffMs * time.Millisecond,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	collector := stats.NewCollector()
	keywords := filter.NewKeywordFilter(cfg.Sync.FilterKeywords)
	processor := filter.NewProcessor(cfg.Sync.FilterPrefix, keywords, collector, db)

	tgClient := telegram.NewClient(cfg.Telegram, nil, logger)
	qqGateway := onebot.NewGateway(cfg.QQ, logger)

	// The engine dispatches retries and the scheduler queues the engine's
	// failed sends, so one side has to bind late.
	var engine *service.Engine
	scheduler := delivery.NewScheduler(db, delivery.DispatcherFunc(func(ctx context.Context, task *models.RetryTask) error {
		return engine.Dispatch(ctx, task)
	}), collector, cfg.Retry, logger)

	engine = service.NewEngine(service.Options{
		Store:          db,
		Queue:          scheduler,
		Telegram:       tgClient,
		QQ:             qqGateway,
		TelegramChatID: cfg.Telegram.ChatID,
		QQGroupID:      cfg.QQ.GroupID,
		Processor:      processor,
		Keywords:       keywords,
		Stats:          collector,
		Sync:           cfg.Sync,
		Logger:         logger,
	})

	cleaner := service.NewCleaner(db, cfg.RetentionHours, constants.DefaultCleanupIntervalHours, logger)
	go cleaner.Start(ctx)
	defer cleaner.Stop()

	watcher := config.NewWatcher(*configPath, logger)
	watcher.OnReload(func(reloaded *models.Config) {
		keywords.Replace(reloaded.Sync.FilterKeywords)
		logger.WithField("keywords", len(reloaded.Sync.FilterKeywords)).Info("Applied reloaded filter keywords")
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher failed")
		}
	}()

	go qqGateway.Start(ctx)
	go tgClient.StartPolling(ctx)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()
	go engine.Run(ctx)

	logger.WithFields(logrus.Fields{
		"telegramChat": cfg.Telegram.ChatID,
		"qqGroup":      cfg.QQ.GroupID,
	}).Info("Bridge initialized")

	server := NewServer(collector, db, Version, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shut down server: %w", err)
	}

	// The scheduler may still be flushing claimed tasks back to the queue;
	// wait for it before the deferred db.Close fires.
	scheduler.Stop()
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for retry scheduler to stop")
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Shutdown complete")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message bodies will be logged")
		return
	}

	if cfg.LogLevel == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
