package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwari-pos/kds/internal/board"
	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/handler"
	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"github.com/kiwari-pos/kds/internal/kitchendb/postgres"
	"github.com/kiwari-pos/kds/internal/kitchendb/sqlite"
	"github.com/kiwari-pos/kds/internal/logging"
	"github.com/kiwari-pos/kds/internal/notify"
	"github.com/kiwari-pos/kds/internal/poller"
	"github.com/kiwari-pos/kds/internal/router"
	"github.com/kiwari-pos/kds/internal/ws"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	logger.Info("Starting kitchen display server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("driver", cfg.DatabaseDriver),
		zap.String("order_type", cfg.OrderType),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger.Named("db"))
	if err != nil {
		logger.Fatal("Failed to open kitchen database", zap.Error(err))
	}
	defer closeStore()

	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sess, err := store.Session(ctx)
			if err != nil {
				return err
			}
			sess.Close()
			return nil
		},
	}

	// Board event fan-out: displays first, then the optional broker.
	var notifiers kitchen.Notifiers
	var loop *board.Loop
	hub := ws.NewHub(func(ctx context.Context) ([]kitchen.OrderGroup, error) {
		return loop.Snapshot(ctx)
	}, logger.Named("ws"))
	notifiers = append(notifiers, hub)

	if cfg.AMQPEnabled() {
		amqpClient, err := notify.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer amqpClient.Close()
		if err := amqpClient.DeclareFanout(cfg.AMQPExchange); err != nil {
			logger.Fatal("Failed to declare exchange", zap.Error(err), zap.String("exchange", cfg.AMQPExchange))
		}
		checks["amqp"] = amqpClient.Ping
		publisher := notify.NewNotifier(amqpClient, cfg.AMQPExchange, logger.Named("amqp"))
		go publisher.Run(ctx)
		notifiers = append(notifiers, publisher)
		logger.Info("Publishing status changes", zap.String("exchange", cfg.AMQPExchange))
	}

	b := board.New(store,
		board.WithLogger(logger.Named("board")),
		board.WithNotifier(notifiers),
	)
	watermark := b.LoadInitial(ctx)

	updates := make(chan kitchen.Groups)
	loop = board.NewLoop(b)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx, updates) }()
	go hub.Run(ctx)

	p := poller.New(store, watermark, updates,
		poller.WithInterval(cfg.PollInterval),
		poller.WithLogger(logger.Named("poller")),
	)
	p.Start(ctx)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(cfg, loop, hub, checks, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("Server started successfully", zap.String("address", srv.Addr), zap.Int64("watermark", watermark))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// No poll result may reach the board once shutdown begins.
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	<-loopDone
	logger.Info("Server exited")
}

// openStore opens the configured kitchen database and returns a func that
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kitchendb.Store, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, cfg.OrderType, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close sqlite", zap.Error(err))
			}
		}, nil
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool, cfg.OrderType, logger), pool.Close, nil
	}
}
