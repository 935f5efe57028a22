package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digistore/internal/config"
	"digistore/internal/db"
	"digistore/internal/events"
	"digistore/internal/fulfillment"
	"digistore/internal/gateway"
	internalhttp "digistore/internal/http"
	"digistore/internal/live"
	"digistore/internal/payments"
	"digistore/internal/secrets"
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
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	box, err := secrets.NewBox(cfg.Orders.CredentialKey)
	if err != nil {
		log.Fatal("credential key invalid", zap.Error(err))
	}

	st := store.New(pool)

	var publisher interface {
		PublishOrderEvent(eventType string, payload events.OrderEventPayload)
	} = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, "digistore-api", log)
		producer.Start(ctx)
		defer producer.WaitClosed()
		publisher = producer
	}

	var feed internalhttp.StatusFeed = live.Nop{}
	var statusPub services.StatusPublisher = live.Nop{}
	if cfg.Redis.Addr != "" {
		f := live.NewFeed(cfg.Redis.Addr, log)
		defer f.Close()
		feed = f
		statusPub = f
	}

	provider := selectProvider(ctx, cfg, log)

	orderSvc := &services.OrderService{
		Store:        st,
		Invoices:     gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey),
		Events:       publisher,
		Live:         statusPub,
		Box:          box,
		Log:          log,
		TTL:          time.Duration(cfg.Orders.TTLMinutes) * time.Minute,
		NumberPrefix: cfg.Orders.NumberPrefix,
	}
	reconciler := &payments.Reconciler{
		Store:    st,
		Provider: provider,
		Events:   publisher,
		Live:     statusPub,
		Log:      log,
	}
	sweeper := &worker.Sweeper{
		Store:    st,
		Events:   publisher,
		Live:     statusPub,
		Log:      log,
		Interval: time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second,
	}

	h := &internalhttp.Handler{
		Orders:       orderSvc,
		Reconciler:   reconciler,
		Sweeper:      sweeper,
		Feed:         feed,
		WebhookToken: cfg.Gateway.WebhookToken,
		Log:          log,
	}
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}

// selectProvider probes the live fulfillment API once; an unreachable
// provider degrades to the mock so checkout keeps working.
func selectProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) fulfillment.Provider {
	if cfg.Provider.Mock {
		log.Info("fulfillment provider: mock mode")
		return fulfillment.Mock{}
	}

	client := fulfillment.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		log.Warn("fulfillment provider unreachable, falling back to mock", zap.Error(err))
		return fulfillment.Mock{}
	}
	return client
}
