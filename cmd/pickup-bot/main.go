package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupRelay/config"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	if p := os.Getenv("swaggerPath"); p != "" && cfg.Pickup.SwaggerPath == "" {
		cfg.Pickup.SwaggerPath = p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunPickupBot(ctx, cfg, defaultBotFactories(), nil); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
