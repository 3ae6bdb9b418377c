package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mull/api/internal/app"
	"mull/api/internal/config"
	"mull/api/internal/job"
	"mull/api/internal/notify"
	"mull/api/internal/settings"
	"mull/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	// Settings source, optionally fronted by Redis.
	var settingsSrc settings.Source = settings.NewStoreSource(dataStore)
	var cache *settings.RedisCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = settings.NewRedisCache(cfg.RedisURL, settingsSrc, cfg.SettingsCacheTTL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer cache.Close()
		settingsSrc = cache
		logger.Info("settings cache enabled", zap.Duration("ttl", cfg.SettingsCacheTTL))
	}

	// Event publisher, enabled only when a broker is configured.
	var notifier notify.Notifier = notify.Nop{}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("rabbitmq connection failed", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
		logger.Info("reminder.sent publishing enabled")
	}

	reminderJob := job.New(dataStore, job.Options{
		Logger:            logger,
		Notifier:          notifier,
		RespectQuietHours: cfg.RespectQuietHours,
		Settings:          settingsSrc,
	})
	reminderJob.Start(cfg.ReminderInterval)
	defer reminderJob.Stop()

	var invalidator app.CacheInvalidator
	if cache != nil {
		invalidator = cache
	}
	service := app.NewService(dataStore, app.ServiceOptions{
		SettingsSource: settingsSrc,
		Cache:          invalidator,
		JobStats:       reminderJob,
		Logger:         logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("mull api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	reminderJob.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
