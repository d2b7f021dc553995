package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"listing_watcher/internal/bot"
	"listing_watcher/internal/config"
	"listing_watcher/internal/domain"
	"listing_watcher/internal/health"
	"listing_watcher/internal/httpapi"
	"listing_watcher/internal/jobqueue"
	"listing_watcher/internal/logging"
	"listing_watcher/internal/notify"
	"listing_watcher/internal/notify/telegram"
	"listing_watcher/internal/publisher"
	"listing_watcher/internal/scheduler"
	"listing_watcher/internal/service"
	"listing_watcher/internal/source/hardverapro"
	"listing_watcher/internal/storage"
	"listing_watcher/internal/storage/postgres"
	"listing_watcher/internal/storage/sqlite"
	"listing_watcher/internal/webhook"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "watcher:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, watchStore, listingStore, err := openStores(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	txManager := storage.NewTransactionManager(db)

	scraper := hardverapro.New(hardverapro.Config{
		Timeout:    cfg.Scraper.Timeout,
		UserAgents: cfg.Scraper.UserAgents,
	}, logger)

	hooks := webhook.NewClient(cfg.Webhook.ClientConfig(), logger)

	router := notify.NewRouter(logger)
	router.Register(domain.IntegrationLog, notify.NewLogSender(logger))

	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg, err = telegram.New(cfg.Telegram.Token, cfg.Telegram.AllowedChatIDs, logger)
		if err != nil {
			logger.Error("failed to start telegram", "error", err)
			return err
		}
		router.Register(domain.IntegrationTelegram, tg)
	}

	dispatcher := notify.NewDispatcher(router, hooks, cfg.Webhook.Options(), logger)

	var rabbitMQ *publisher.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err = publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return err
		}
		defer rabbitMQ.Close()
	}

	// events stays a nil interface when rabbitmq is disabled, and so does the probe.
	var events service.Publisher
	checker := health.NewChecker(0)
	if rabbitMQ != nil {
		events = rabbitMQ
		checker.Register("publisher", false, health.Publisher(rabbitMQ))
	}

	watchService := service.NewWatchService(
		scraper,
		watchStore,
		listingStore,
		txManager,
		dispatcher,
		events,
		logger,
		cfg.Scraper,
	)

	sched := scheduler.NewScheduler(watchService, cfg.Scheduler, logger)
	jobs := jobqueue.New(watchService, cfg.Jobs.Capacity, logger)

	checker.Register("database", true, health.Database(db))
	checker.Register("scheduler", false, health.Running(sched.Running))
	checker.Register("jobs", false, health.Running(jobs.Running))

	logger.Info("starting listing watcher",
		"version", version,
		"interval", cfg.Scheduler.Interval,
		"respect_robots", cfg.Scraper.RespectRobots,
		"telegram", cfg.Telegram.Enabled,
		"rabbitmq", cfg.RabbitMQ.Enabled,
		"http", cfg.HTTP.Enabled,
	)

	// Detached from ctx: Stop drains in-flight checks after a signal.
	sched.Start(context.Background())
	jobs.Start(context.Background())

	httpErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		api := httpapi.NewServer(watchService, jobs, checker, hooks, cfg.Webhook.Options(), version, logger)
		go func() {
			httpErr <- api.ListenAndServe(ctx, cfg.HTTP.Addr)
		}()
	}

	if tg != nil {
		handler := bot.NewHandler(watchService, jobs, router, logger)
		go handler.Run(ctx, tg.Listen(ctx))
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-httpErr:
		if err != nil {
			logger.Error("http api failed", "error", err)
		}
		stop()
	}

	sched.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := jobs.Stop(stopCtx); err != nil {
		logger.Warn("job queue did not stop cleanly", "error", err)
	}

	logger.Info("listing watcher stopped")
	return nil
}

func openStores(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, service.WatchStore, service.ListingStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, sqlite.NewWatchStore(db), sqlite.NewListingStore(db), nil
	default:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
		if err != nil {
			return nil, nil, nil, err
		}
		return db, postgres.NewWatchStore(db), postgres.NewListingStore(db), nil
	}
}
