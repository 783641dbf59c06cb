// cmd/allocation/main.go
package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bruna557/python-patterns/internal/adapters"
	"github.com/Bruna557/python-patterns/internal/api"
	"github.com/Bruna557/python-patterns/internal/config"
	"github.com/Bruna557/python-patterns/internal/observability"
	"github.com/Bruna557/python-patterns/internal/service"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.SetupTracing(ctx, config.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Fatal("failed to set up tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := adapters.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("failed to create schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	notifier := adapters.NewMailNotifier(cfg.MailGatewayURL, logger)
	publisher := adapters.NewRedisEventPublisher(redisClient, logger)

	handlers := service.NewHandlers(notifier, publisher)
	bus := service.NewMessageBus(logger, handlers.CommandHandlers(), handlers.EventHandlers())

	server := api.NewServer(bus, adapters.NewUnitOfWorkStarter(db), db, logger)

	logger.Info("starting allocation service", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, server.Router()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
