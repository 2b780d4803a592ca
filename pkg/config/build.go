package config

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/catalog"
	"github.com/jsndz/petbus/pkg/consumer"
	"github.com/jsndz/petbus/pkg/database"
	"github.com/jsndz/petbus/pkg/dedup"
	"github.com/jsndz/petbus/pkg/gateway"
	"github.com/jsndz/petbus/pkg/kafka"
	"github.com/jsndz/petbus/pkg/models"
	"github.com/jsndz/petbus/pkg/policy"
	"github.com/jsndz/petbus/pkg/repositories"
	"github.com/jsndz/petbus/pkg/worker"
)

func BuildBroker(cfg *Config, logr *zap.Logger) (broker.Broker, error) {
	switch cfg.Broker.Driver {
	case "kafka":
		return kafka.NewBrokerFromEnv(kafka.Config{
			Brokers:           cfg.Broker.Brokers,
			Partitions:        cfg.Broker.Partitions,
			ReplicationFactor: cfg.Broker.ReplicationFactor,
		}, logr)
	case "memory":
		return broker.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func BuildPolicy(cfg *Config) (*policy.Policy, error) {
	return policy.New(cfg.Policy)
}

// BuildCatalog loads pets from the database when a DSN is set, from a YAML
// file when a path is set, and falls back to the built-in pets.
func BuildCatalog(cfg *Config, logr *zap.Logger) (catalog.Catalog, error) {
	switch {
	case cfg.Catalog.DSN != "":
		db, err := database.InitDB(cfg.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateDB(db, logr, &models.Pet{}); err != nil {
			return nil, err
		}
		repo := repositories.NewPetRepository(db)
		pets, err := repo.List()
		if err != nil {
			return nil, err
		}
		if len(pets) == 0 {
			for _, e := range catalog.DefaultEntries() {
				pet := models.Pet{PetID: e.PetID, Name: e.Name, Species: e.Species, Difficulty: e.Difficulty}
				if err := repo.Upsert(&pet); err != nil {
					return nil, fmt.Errorf("seed pet %s: %w", e.PetID, err)
				}
			}
			logr.Info("Seeded pet catalog", zap.Int("pets", len(catalog.DefaultEntries())))
		}
		return catalog.LoadFromRepository(repo)
	case cfg.Catalog.Path != "":
		return catalog.LoadYAML(cfg.Catalog.Path)
	default:
		return catalog.Default(), nil
	}
}

func BuildDedup(ctx context.Context, cfg *Config) (dedup.Store, error) {
	switch cfg.Dedup.Driver {
	case "redis":
		rdb := database.InitRedis(cfg.Dedup.RedisAddr, cfg.Dedup.RedisPassword)
		if err := database.PingRedis(ctx, rdb); err != nil {
			return nil, err
		}
		return dedup.NewRedisStore(rdb, "petbus", cfg.Dedup.TTL), nil
	case "memory", "":
		return dedup.NewMemoryStore(cfg.Dedup.TTL), nil
	default:
		return nil, fmt.Errorf("unknown dedup driver %q", cfg.Dedup.Driver)
	}
}

func BuildRand(cfg *Config) policy.Rand {
	if cfg.Worker.Seed != nil {
		return policy.NewRand(*cfg.Worker.Seed)
	}
	return policy.NewRand(uint64(time.Now().UnixNano()))
}

func BuildGatewayConfig(cfg *Config) gateway.Config {
	return gateway.Config{
		RequestsQueue:      cfg.Queues.Requests,
		ResultsQueue:       cfg.Queues.Results,
		NotificationsQueue: cfg.Queues.Notifications,
		Rate:               cfg.Gateway.Rate,
		Burst:              cfg.Gateway.Burst,
	}
}

// BuildWorkerConfig returns the config of worker instance i (1-based).
func BuildWorkerConfig(cfg *Config, i int) worker.Config {
	v, _ := worker.ParseVerbosity(cfg.Worker.Verbosity)
	return worker.Config{
		ID:                 fmt.Sprintf("worker-%d", i),
		RequestsQueue:      cfg.Queues.Requests,
		ResultsQueue:       cfg.Queues.Results,
		NotificationsQueue: cfg.Queues.Notifications,
		ProcessTimeout:     cfg.Worker.ProcessTimeout,
		MaxRetries:         cfg.Worker.MaxRetries,
		Verbosity:          v,
	}
}

func BuildConsumerConfig(cfg *Config) consumer.Config {
	return consumer.Config{
		ResultsQueue:       cfg.Queues.Results,
		NotificationsQueue: cfg.Queues.Notifications,
		MaxRetries:         cfg.Consumer.MaxRetries,
	}
}
