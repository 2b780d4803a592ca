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
	"github.com/jsndz/petbus/pkg/worker"
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

	shutdownTracer, err := tracing.InitTracer("validation-worker", cfg.Tracing.Endpoint, logr)
	if err != nil {
		logr.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer shutdownTracer()

	metrics.InitHTTPMetrics()
	metrics.InitWorkerMetrics()
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
		cfg.Queues.Requests,
		cfg.Queues.Results,
		cfg.Queues.Notifications,
		broker.DeadLetterQueue(cfg.Queues.Requests),
	)
	cancel()
	if err != nil {
		logr.Fatal("Failed to declare queues", zap.Error(err))
	}

	p, err := config.BuildPolicy(cfg)
	if err != nil {
		logr.Fatal("Failed to build policy", zap.Error(err))
	}
	cat, err := config.BuildCatalog(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to load catalog", zap.Error(err))
	}
	store, err := config.BuildDedup(ctx, cfg)
	if err != nil {
		logr.Fatal("Failed to build dedup store", zap.Error(err))
	}
	rnd := config.BuildRand(cfg)

	workers := make([]*worker.Worker, 0, cfg.Worker.Instances)
	for i := 1; i <= cfg.Worker.Instances; i++ {
		opts := []worker.Option{
			worker.WithRand(rnd),
			worker.WithDedup(store),
			worker.WithLogger(logger.Named(logr, "worker")),
		}
		if cfg.Worker.SimulatedLatency > 0 {
			opts = append(opts, worker.WithDelay(worker.FixedDelay(cfg.Worker.SimulatedLatency)))
		}
		workers = append(workers, worker.New(config.BuildWorkerConfig(cfg, i), b, p, cat, opts...))
	}
	logr.Info("Starting validation workers",
		zap.Int("instances", len(workers)),
		zap.String("policy", p.Name),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: middlewares.MetricsMiddleware(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	if err := worker.RunAll(ctx, workers...); err != nil {
		logr.Error("Validation workers stopped", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	srv.Shutdown(shutdownCtx)
	logr.Info("Validation worker shut down")
}
