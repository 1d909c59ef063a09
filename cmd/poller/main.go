package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MyITjournal/wallet-ledger/internal/config"
	"github.com/MyITjournal/wallet-ledger/internal/logger"
	"github.com/MyITjournal/wallet-ledger/internal/repo"
)

// The poller drains the transactional outbox to Kafka so downstream
// consumers see every ledger mutation exactly as committed.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Info("ledger-poller started")
	for range ticker.C {
		ctx := context.Background()
		events, err := repository.PollOutbox(ctx, 100)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repository.PublishEvent(ctx, evt); err != nil {
				log.Errorf("publish id=%d: %v", evt.ID, err)
				continue
			}
			if err := repository.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorf("mark processed id=%d: %v", evt.ID, err)
			} else {
				log.Infof("event %d (%s) sent", evt.ID, evt.EventType)
			}
		}
	}
}
