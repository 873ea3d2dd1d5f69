package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/config"
	"github.com/aman-churiwal/chat-gateway/internal/logging"
	"github.com/aman-churiwal/chat-gateway/internal/server"
	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("Connected to database")

	var redis *storage.RedisClient
	if cfg.Redis.URL != "" {
		redis, err = storage.NewRedis(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid Redis configuration")
		}
		defer redis.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redis.Ping(ctx); err != nil {
			// Not fatal: the limiter runs locally until Redis answers.
			log.Warn().Err(err).Msg("Redis unreachable at startup")
		} else {
			log.Info().Msg("Connected to redis successfully")
		}
		cancel()
	} else {
		log.Warn().Msg("REDIS_URL not set, rate limiting is local to this instance")
	}

	// Create server
	srv := server.New(cfg, redis, db, server.Options{})

	go func() {
		if err := srv.Run(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
