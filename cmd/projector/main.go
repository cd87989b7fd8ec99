package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/loceal-orders/internal/config"
	kafkax "github.com/ariefcatur/loceal-orders/internal/kafka"
	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/projector"
	"github.com/ariefcatur/loceal-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logx.Setup(cfg.LogLevel)
	log := logx.New("projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Error("redis ping", "addr", cfg.RedisAddr, "error", err.Error())
		os.Exit(1)
	}

	svc := projector.NewService(
		redisx.NewDedup(rdb, cfg.ServiceName+"-projector"),
		redisx.NewStatusCache(rdb),
	)

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, cfg.TopicOrderEvents, cfg.ProjectorWorkers)
	log.Info("projector consumer started",
		"group", cfg.ProjectorGroup,
		"topic", cfg.TopicOrderEvents,
		"workers", cfg.ProjectorWorkers,
	)
	if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
		log.Error("consumer exit", "error", err.Error())
		os.Exit(1)
	}
	log.Info("projector stopped")
}
