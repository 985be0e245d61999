package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLKeeper/pkg/adminserver"
	"github.com/supporttools/GoSQLKeeper/pkg/backup"
	_ "github.com/supporttools/GoSQLKeeper/pkg/backup/database/mysql"
	_ "github.com/supporttools/GoSQLKeeper/pkg/backup/database/postgresql"
	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
	"github.com/supporttools/GoSQLKeeper/pkg/notify"
	"github.com/supporttools/GoSQLKeeper/pkg/retention"
	"github.com/supporttools/GoSQLKeeper/pkg/scheduler"
	"github.com/supporttools/GoSQLKeeper/pkg/storage"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/local"
	"github.com/supporttools/GoSQLKeeper/pkg/version"
)

func main() {
	log.Printf("Starting GoSQLKeeper %s...", version.Version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	if cfg.Debug {
		cfg.Display()
	}

	if err := local.EnsureBackupPath(cfg.BackupDirectory); err != nil {
		log.Fatalf("Failed to prepare backup directory: %v", err)
	}

	db, err := metadata.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metadata database: %v", err)
	}
	jobRepo := metadata.NewJobRepository(db)
	historyRepo := metadata.NewHistoryRepository(db)

	engine, err := database.NewEngine(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to initialize database engine: %v", err)
	}

	var sender notify.Sender
	if s := notify.NewSMTPSender(cfg.SMTP); s != nil {
		sender = s
	} else {
		log.Println("SMTP is not configured, notifications are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := scheduler.NewPool(cfg.Scheduler.Workers)
	backupManager, err := backup.NewManager(ctx, cfg, backup.Deps{
		Jobs:      jobRepo,
		History:   historyRepo,
		Servers:   metadata.NewServerRepository(db),
		Storage:   metadata.NewStorageRepository(db),
		Engine:    engine,
		Transfer:  storage.NewTransfer(cfg),
		Retention: retention.NewManager(historyRepo),
		Notifier:  notify.NewNotifier(sender),
		Pool:      pool,
	})
	if err != nil {
		log.Fatalf("Failed to initialize backup manager: %v", err)
	}

	sched := scheduler.NewScheduler(cfg, jobRepo, backupManager)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go metrics.StartMetricsServer(metricsServer)

	logger := logrus.New()
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	adminSrv := adminserver.NewServer(cfg.Admin.Port, backupManager, logger)
	adminSrv.Start()

	log.Println("GoSQLKeeper is running. Press Ctrl+C to exit.")
	waitForSignal()

	// stop dispatching first, then let running jobs finish
	sched.Stop()
	pool.Shutdown()
	cancel()

	if err := adminSrv.Stop(); err != nil {
		log.Printf("Error shutting down admin server: %v", err)
	}
	if err := metricsServer.Close(); err != nil {
		log.Printf("Error shutting down metrics server: %v", err)
	}
	if err := metadata.Close(db); err != nil {
		log.Printf("Error closing metadata database: %v", err)
	}
	log.Println("GoSQLKeeper stopped")
}

// waitForSignal blocks until SIGINT or SIGTERM
func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Printf("Received signal %s, shutting down...", sig)
}
