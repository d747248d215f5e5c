package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PickupRelay/config"
	"github.com/BearBump/PickupRelay/internal/broker/kafka"
	"github.com/BearBump/PickupRelay/internal/cache/rediscache"
	"github.com/BearBump/PickupRelay/internal/services/ledger"
	"github.com/BearBump/PickupRelay/internal/storage/pgoutcome"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	s, err := cfg.Settings()
	if err != nil {
		panic(err)
	}

	st := mustOpenPostgresWithRetry(cfg.PostgresDSN(), 60*time.Second)
	defer st.Close()

	rc := rediscache.New(rediscache.Options{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rc.Close() }()

	svc := ledger.New(st, rc, summaryTTL)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers(), s.OutcomeTopic, s.KafkaConsumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runLedger(ctx, ledgerOpts{
		httpAddr:      s.LedgerHTTPAddr,
		topic:         s.OutcomeTopic,
		consumerGroup: s.KafkaConsumerGroup,
	}, svc, consumer); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgoutcome.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgoutcome.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}
