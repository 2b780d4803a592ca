package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/logger"
	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/middlewares"
	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/config"
	"github.com/jsndz/petbus/pkg/consumer"
	"github.com/jsndz/petbus/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}

	logr, err := logger.InitLogger()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logr.Sync()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logr.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Broker.Driver == "memory" {
		logr.Fatal("The memory broker cannot be shared across processes; run the gateway with BROKER_DRIVER=memory instead")
	}

	shutdownTracer, err := tracing.InitTracer("result-consumer", cfg.Tracing.Endpoint, logr)
	if err != nil {
		logr.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer shutdownTracer()

	metrics.InitHTTPMetrics()
	metrics.InitConsumerMetrics()
	metrics.InitBrokerMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := config.BuildBroker(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to initialize broker", zap.Error(err))
	}
	defer b.Close()

	declareCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = broker.DeclareAll(declareCtx, b,
		cfg.Queues.Results,
		cfg.Queues.Notifications,
		broker.DeadLetterQueue(cfg.Queues.Results),
		broker.DeadLetterQueue(cfg.Queues.Notifications),
	)
	cancel()
	if err != nil {
		logr.Fatal("Failed to declare queues", zap.Error(err))
	}

	store, err := config.BuildDedup(ctx, cfg)
	if err != nil {
		logr.Fatal("Failed to build dedup store", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + cfg.Consumer.MetricsPort, Handler: middlewares.MetricsMiddleware(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	c := consumer.New(config.BuildConsumerConfig(cfg), b, store, logger.Named(logr, "consumer"))
	if err := c.Run(ctx); err != nil {
		logr.Error("Result consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	srv.Shutdown(shutdownCtx)
	logr.Info("Result consumer shut down")
}
