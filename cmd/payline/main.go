package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/payline/internal/archive"
	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/config"
	"github.com/dukerupert/payline/internal/database"
	"github.com/dukerupert/payline/internal/logging"
	"github.com/dukerupert/payline/internal/payments"
	"github.com/dukerupert/payline/internal/processor"
	"github.com/dukerupert/payline/internal/processor/stripeproc"
	"github.com/dukerupert/payline/internal/processor/testproc"
	"github.com/dukerupert/payline/internal/server"
	"github.com/dukerupert/payline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("load catalog", "error", err)
		os.Exit(1)
	}

	adapters := []processor.Adapter{
		stripeproc.New(stripeproc.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.BaseURL + "/payments/confirm?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     cfg.BaseURL + "/pricing",
		}),
	}
	if !cfg.IsProduction() {
		webhookURL := cfg.BaseURL + "/payments/webhook?processor=" + testproc.Name +
			"&key=" + url.QueryEscape(cfg.Payments.WebhookKey)
		tp, err := testproc.New(testproc.Config{
			Environment: cfg.Environment,
			WebhookURL:  webhookURL,
			ConfirmURL:  cfg.BaseURL + "/payments/confirm",
			Logger:      logger.With("component", "testproc"),
		})
		if err != nil {
			logger.Error("init test processor", "error", err)
			os.Exit(1)
		}
		adapters = append(adapters, tp)
	}
	registry := processor.NewRegistry(adapters...)
	logger.Info("processors registered", "processors", registry.Names())

	intentStore := store.NewIntentStore(db)
	eventStore := store.NewWebhookEventStore(db)
	subStore := store.NewSubscriptionStore(db)
	userStore := store.NewUserStore(db)
	kvStore := store.NewKVStore(db)

	notify := make(chan string, 64)

	intentSvc := payments.NewIntentService(
		registry, cat, intentStore, subStore, userStore,
		logger.With("component", "intent"))
	receiver := payments.NewReceiver(
		registry, eventStore, cfg.Payments.WebhookKey, notify,
		logger.With("component", "receiver"))
	reconciler := payments.NewReconciler(
		db, registry, cat, eventStore, subStore, userStore, notify,
		logger.With("component", "reconciler"))

	exporter := archive.NewExporter(archive.Config{
		S3: archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		},
	}, eventStore, kvStore, logger.With("component", "archive"))

	srv := server.New(intentSvc, receiver, cfg.Payments.AuthSecret, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go reconciler.Run(workerCtx)
	go exporter.Run(workerCtx)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	go func() {
		logger.Info("payline starting", "addr", cfg.Addr(), "env", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	workerCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
