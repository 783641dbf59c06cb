// cmd/eventconsumer/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bruna557/python-patterns/internal/adapters"
	"github.com/Bruna557/python-patterns/internal/config"
	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/service"
)

// changeBatchQuantityChannel carries stock corrections published by the
// warehouse system.
const changeBatchQuantityChannel = "change_batch_quantity"

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	startUow := adapters.NewUnitOfWorkStarter(db)

	sub := redisClient.Subscribe(ctx, changeBatchQuantityChannel)
	defer sub.Close()

	logger.Info("listening for stock corrections", zap.String("channel", changeBatchQuantityChannel))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var cmd domain.ChangeBatchQuantity
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				logger.Error("malformed payload", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}

			uow, err := startUow(ctx)
			if err != nil {
				logger.Error("failed to start unit of work", zap.Error(err))
				continue
			}
			if _, err := bus.Handle(ctx, cmd, uow); err != nil {
				logger.Error("failed to change batch quantity",
					zap.String("batchref", cmd.Ref),
					zap.Error(err),
				)
			}
			if err := uow.Close(); err != nil {
				logger.Error("failed to close unit of work", zap.Error(err))
			}
		}
	}
}
