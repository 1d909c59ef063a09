package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MyITjournal/wallet-ledger/internal/config"
	"github.com/MyITjournal/wallet-ledger/internal/gateway"
	"github.com/MyITjournal/wallet-ledger/internal/logger"
	"github.com/MyITjournal/wallet-ledger/internal/model"
	"github.com/MyITjournal/wallet-ledger/internal/repo"
	"github.com/MyITjournal/wallet-ledger/internal/service"
	httptransport "github.com/MyITjournal/wallet-ledger/internal/transport/http"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Wallet{},
		&model.WalletTransaction{},
		&model.Payment{},
		&model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. paystack, repo & service
	gw := gateway.NewPaystackClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, log)
	repository := repo.NewRepository(gdb, rdb, kw, log)
	svc := service.NewWalletService(repository, gw, log, cfg.Ledger.OperationTimeout())

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("wallet-ledger listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
