package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cache"
	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	apphttp "expensetracker/internal/http"
	applog "expensetracker/internal/log"
	"expensetracker/internal/services"
	"expensetracker/internal/tools"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting expense tracker",
		applog.FieldOperation, applog.OpStartup,
		"port", cfg.Port,
		"db_path", cfg.SQLiteDBPath,
		"amqp", cfg.AMQPEnabled())

	repo := cli.InitSQLite(logger, cfg)

	opts := services.Options{Timeout: cfg.OperationTimeout}

	var cacheManager *cache.Manager
	if cfg.SummaryCacheSize > 0 {
		summaries := cache.NewLRUCache[[]core.CategoryTotal](cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
		opts.SummaryCache = summaries
		cacheManager = cache.NewManager(logger.WithComponent(applog.ComponentCache).Logger)
		cacheManager.Register(summaries)
		cacheManager.StartCleanup(cfg.SummaryCacheTTL)
	}

	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRPCQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client",
				applog.NewFields().WithComponent(applog.ComponentAMQP).WithError(err, applog.ErrorTypeInternal).ToSlice()...)
			repo.Close()
			os.Exit(1)
		}
		amqpClient = client
		opts.Publisher = client
	}

	svc := services.NewExpenseService(repo, opts)
	dispatcher := tools.NewDispatcher(svc, cfg.CategoriesPath)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:         ":" + cfg.Port,
		RateLimit:    cfg.HTTPRateLimit,
		WriteTimeout: cfg.OperationTimeout + 5*time.Second,
		Logger:       logger,
	}, dispatcher, svc)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ServeToolCalls(applog.IntoContext(gctx, logger), dispatcher)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		logger.Error("Expense tracker stopped with error", "error", err)
	}

	if cacheManager != nil {
		cacheManager.Stop()
	}
	// Closes the AMQP client as the service's publisher, then the database.
	if closeErr := svc.Close(); closeErr != nil {
		logger.Error("Failed to release resources", "error", closeErr)
	}

	logger.Info("Expense tracker stopped", applog.FieldOperation, applog.OpShutdown)
	if err != nil {
		os.Exit(1)
	}
}
