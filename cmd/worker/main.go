package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/aws"
	"github.com/MattCarneiro/forms/internal/broker"
	"github.com/MattCarneiro/forms/internal/cleanup"
	"github.com/MattCarneiro/forms/internal/config"
	"github.com/MattCarneiro/forms/internal/forms"
	"github.com/MattCarneiro/forms/internal/logging"
	"github.com/MattCarneiro/forms/internal/storage"
	"github.com/MattCarneiro/forms/internal/webhook"
)

func main() {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := forms.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("state store init failed")
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("state store unreachable")
	}

	clients, err := aws.NewClients(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("aws client init failed")
	}
	blobs := storage.New(clients.S3, cfg.S3Bucket, clients.Region)
	notifier := webhook.NewNotifier(cfg.CompletionWebhookURL, cfg.ExpirationWebhookURL)

	conn, err := broker.Dial(broker.Config{
		URL:      cfg.BrokerURL,
		Queue:    cfg.QueueName,
		Prefetch: cfg.PrefetchCount,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("broker unreachable")
	}
	defer conn.Close()

	svc := forms.NewService(store, conn, blobs, forms.ServiceConfig{
		BaseURL:            cfg.BaseURL(),
		AllowedFormats:     cfg.AllowedFormats,
		MaxFileSize:        cfg.MaxFileSize,
		DefaultRedirectURL: cfg.DefaultRedirectURL,
	})
	sweeper := cleanup.NewSweeper(svc, notifier, cfg.ExpirationWindow, cfg.SweepInterval)
	go sweeper.Run(ctx)

	log.Info().
		Str("queue", cfg.QueueName).
		Int("prefetch", cfg.PrefetchCount).
		Str("bucket", cfg.S3Bucket).
		Dur("expiration", cfg.ExpirationWindow).
		Msg("worker started")

	proc := NewProcessor(store, blobs, notifier, cfg.BaseURL())
	if err := conn.Consume(ctx, proc.Process); err != nil && !errors.Is(err, context.Canceled) {
		// No queue access means no value; exit so the supervisor
		// restarts the worker.
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker shut down")
}
