package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digistore/internal/config"
	"digistore/internal/db"
	"digistore/internal/events"
	"digistore/internal/live"
	"digistore/internal/services"
	"digistore/internal/store"
	"digistore/internal/worker"

	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	var publisher worker.EventPublisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, "digistore-sweeper", log)
		producer.Start(ctx)
		defer producer.WaitClosed()
		publisher = producer
	}

	var statusPub services.StatusPublisher = live.Nop{}
	if cfg.Redis.Addr != "" {
		f := live.NewFeed(cfg.Redis.Addr, log)
		defer f.Close()
		statusPub = f
	}

	sweeper := &worker.Sweeper{
		Store:    store.New(pool),
		Events:   publisher,
		Live:     statusPub,
		Log:      log,
		Interval: time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	log.Info("sweeper started", zap.Int("interval_seconds", cfg.Sweeper.IntervalSeconds))
	sweeper.Run(ctx)
}
