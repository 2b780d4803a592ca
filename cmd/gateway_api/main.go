package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jsndz/petbus/cmd/gateway_api/app/routes"
	"github.com/jsndz/petbus/logger"
	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/middlewares"
	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/config"
	"github.com/jsndz/petbus/pkg/consumer"
	"github.com/jsndz/petbus/pkg/database"
	"github.com/jsndz/petbus/pkg/gateway"
	"github.com/jsndz/petbus/pkg/worker"
	"github.com/jsndz/petbus/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}

	logr, err := logger.InitLogger()
	if err != nil {
		panic("Failed to initialize zap logger: " + err.Error())
	}
	defer logr.Sync()
	logr.Info("Logger initialized")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logr.Fatal("Failed to load config", zap.Error(err))
	}

	shutdownTracer, err := tracing.InitTracer("gateway-api", cfg.Tracing.Endpoint, logr)
	if err != nil {
		logr.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer shutdownTracer()

	metrics.InitAPIMetrics()
	metrics.InitBrokerMetrics()

	b, err := config.BuildBroker(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to initialize broker", zap.Error(err))
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := gateway.New(config.BuildGatewayConfig(cfg), b, logger.Named(logr, "gateway"))
	defer svc.Close()
	declareCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = svc.Declare(declareCtx)
	cancel()
	if err != nil {
		logr.Fatal("Failed to declare queues", zap.Error(err))
	}
	logr.Info("Queues declared", zap.String("driver", cfg.Broker.Driver))

	go func() {
		if err := svc.FollowNotifications(ctx); err != nil {
			logr.Error("Notification feed stopped", zap.Error(err))
		}
	}()

	if cfg.Broker.Driver == "memory" {
		startEmbeddedPipeline(ctx, cfg, b, logr)
	}

	var cache middlewares.ResponseCache
	if cfg.Dedup.Driver == "redis" {
		rdb := database.InitRedis(cfg.Dedup.RedisAddr, cfg.Dedup.RedisPassword)
		defer rdb.Close()
		cache = middlewares.NewRedisResponseCache(rdb, 24*time.Hour)
	} else {
		mem := middlewares.NewMemoryResponseCache(24 * time.Hour)
		defer mem.Stop()
		cache = mem
	}
	limiter := middlewares.NewRateLimiter(rate.Limit(cfg.Gateway.ClientRate), cfg.Gateway.ClientBurst)

	router := gin.Default()
	router.Use(middlewares.GinMetricsMiddleware())

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	routes.Adoptions(api.Group("/adoptions"), svc, limiter, cache, logr)
	routes.Notifications(api.Group("/notifications"), svc, logr)
	routes.Admin(api.Group("/admin"), svc, logr)

	srv := &http.Server{Addr: ":" + cfg.Gateway.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logr.Info("Gateway listening", zap.String("port", cfg.Gateway.Port))

	<-ctx.Done()
	logr.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("Error shutting down server", zap.Error(err))
	}
}

// startEmbeddedPipeline runs workers and the result consumer in this process.
// An in-memory broker cannot be shared with other processes, so this is the
// only way that driver sees a complete pipeline.
func startEmbeddedPipeline(ctx context.Context, cfg *config.Config, b broker.Broker, logr *zap.Logger) {
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
	metrics.InitWorkerMetrics()
	metrics.InitConsumerMetrics()

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
	go func() {
		if err := worker.RunAll(ctx, workers...); err != nil {
			logr.Error("Embedded workers stopped", zap.Error(err))
		}
	}()

	c := consumer.New(config.BuildConsumerConfig(cfg), b, store, logger.Named(logr, "consumer"))
	go func() {
		if err := c.Run(ctx); err != nil {
			logr.Error("Embedded consumer stopped", zap.Error(err))
		}
	}()
	logr.Info("Embedded pipeline started", zap.Int("workers", len(workers)))
}
