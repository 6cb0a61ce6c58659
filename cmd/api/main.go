package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/aws"
	"github.com/MattCarneiro/forms/internal/broker"
	"github.com/MattCarneiro/forms/internal/config"
	"github.com/MattCarneiro/forms/internal/forms"
	"github.com/MattCarneiro/forms/internal/handlers"
	"github.com/MattCarneiro/forms/internal/logging"
	"github.com/MattCarneiro/forms/internal/storage"
)

func setupRouter(svc *forms.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterFormRoutes(r, svc)

	return r
}

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

	r := setupRouter(svc)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down api server")
		_ = srv.Shutdown(context.Background())
	}()

	log.Info().Str("port", cfg.Port).Str("base_url", cfg.BaseURL()).Msg("api server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("api server failed")
	}
}
