package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jsndz/petbus/pkg/policy"
	"github.com/jsndz/petbus/pkg/utils"
	"github.com/jsndz/petbus/pkg/worker"
)

type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Queues   QueuesConfig   `yaml:"queues"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Worker   WorkerConfig   `yaml:"worker"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Policy   policy.Options `yaml:"policy"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type BrokerConfig struct {
	// Driver is "kafka" or "memory".
	Driver            string   `yaml:"driver"`
	Brokers           []string `yaml:"brokers"`
	Partitions        int      `yaml:"partitions"`
	ReplicationFactor int      `yaml:"replication_factor"`
}

type QueuesConfig struct {
	Requests      string `yaml:"requests"`
	Results       string `yaml:"results"`
	Notifications string `yaml:"notifications"`
}

type GatewayConfig struct {
	Port        string  `yaml:"port"`
	Rate        float64 `yaml:"rate"`
	Burst       int     `yaml:"burst"`
	ClientRate  float64 `yaml:"client_rate"`
	ClientBurst int     `yaml:"client_burst"`
}

type WorkerConfig struct {
	Instances        int           `yaml:"instances"`
	ProcessTimeout   time.Duration `yaml:"process_timeout"`
	SimulatedLatency time.Duration `yaml:"simulated_latency"`
	MaxRetries       int           `yaml:"max_retries"`
	Verbosity        string        `yaml:"verbosity"`
	Seed             *uint64       `yaml:"seed"`
	MetricsPort      string        `yaml:"metrics_port"`
}

type ConsumerConfig struct {
	MaxRetries  int    `yaml:"max_retries"`
	MetricsPort string `yaml:"metrics_port"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type DedupConfig struct {
	// Driver is "redis" or "memory".
	Driver        string        `yaml:"driver"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	TTL           time.Duration `yaml:"ttl"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Driver:            "kafka",
			Brokers:           []string{"localhost:9092"},
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Queues: QueuesConfig{
			Requests:      "adoption_requests",
			Results:       "adoption_results",
			Notifications: "notifications",
		},
		Gateway: GatewayConfig{
			Port:        "3000",
			Rate:        50,
			Burst:       100,
			ClientRate:  5,
			ClientBurst: 10,
		},
		Worker: WorkerConfig{
			Instances:      1,
			ProcessTimeout: 30 * time.Second,
			MaxRetries:     5,
			Verbosity:      string(worker.VerbosityOutcome),
			MetricsPort:    "3001",
		},
		Consumer: ConsumerConfig{
			MaxRetries:  5,
			MetricsPort: "3002",
		},
		Policy: policy.Options{
			Variant: policy.MultiCriteria,
		},
		Dedup: DedupConfig{
			Driver: "memory",
			TTL:    24 * time.Hour,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads CONFIG_PATH, falling back to ./config.yaml when it
// exists and to the defaults otherwise.
func LoadFromEnv() (*Config, error) {
	path := utils.GetEnv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("./config.yaml"); err == nil {
			path = "./config.yaml"
		}
	}
	return LoadConfig(path)
}

func (c *Config) ApplyEnv() {
	c.Broker.Driver = utils.GetEnvDefault("BROKER_DRIVER", c.Broker.Driver)
	if brokers := utils.SplitList(utils.GetEnv("KAFKA_BROKER")); len(brokers) > 0 {
		c.Broker.Brokers = brokers
	}

	c.Gateway.Port = utils.GetEnvDefault("GATEWAY_PORT", c.Gateway.Port)

	c.Worker.Instances = utils.GetEnvInt("WORKER_INSTANCES", c.Worker.Instances)
	c.Worker.MaxRetries = utils.GetEnvInt("MAX_RETRIES", c.Worker.MaxRetries)
	c.Worker.ProcessTimeout = utils.GetEnvDuration("PROCESS_TIMEOUT", c.Worker.ProcessTimeout)
	c.Worker.SimulatedLatency = utils.GetEnvDuration("SIMULATED_LATENCY", c.Worker.SimulatedLatency)
	c.Worker.Verbosity = utils.GetEnvDefault("NOTIFY_VERBOSITY", c.Worker.Verbosity)
	c.Consumer.MaxRetries = utils.GetEnvInt("MAX_RETRIES", c.Consumer.MaxRetries)

	c.Policy.Variant = utils.GetEnvDefault("POLICY_VARIANT", c.Policy.Variant)

	c.Catalog.Path = utils.GetEnvDefault("CATALOG_PATH", c.Catalog.Path)
	c.Catalog.DSN = utils.GetEnvDefault("CATALOG_DB", c.Catalog.DSN)

	if addr := utils.GetEnv("REDIS_ADDR"); addr != "" {
		c.Dedup.RedisAddr = addr
		c.Dedup.Driver = "redis"
	}
	c.Dedup.RedisPassword = utils.GetEnvDefault("REDIS_PASSWORD", c.Dedup.RedisPassword)
	c.Dedup.Driver = utils.GetEnvDefault("DEDUP_DRIVER", c.Dedup.Driver)

	c.Tracing.Endpoint = utils.GetEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Broker.Driver {
	case "kafka":
		if len(c.Broker.Brokers) == 0 {
			errs = append(errs, errors.New("broker.brokers is required for the kafka driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown broker driver %q", c.Broker.Driver))
	}
	if c.Queues.Requests == "" || c.Queues.Results == "" || c.Queues.Notifications == "" {
		errs = append(errs, errors.New("all queue names are required"))
	}
	if c.Worker.Instances < 1 {
		errs = append(errs, fmt.Errorf("worker.instances must be at least 1, got %d", c.Worker.Instances))
	}
	if _, ok := worker.ParseVerbosity(c.Worker.Verbosity); !ok {
		errs = append(errs, fmt.Errorf("unknown notification verbosity %q", c.Worker.Verbosity))
	}
	if _, err := policy.New(c.Policy); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	switch c.Dedup.Driver {
	case "memory":
	case "redis":
		if c.Dedup.RedisAddr == "" {
			errs = append(errs, errors.New("dedup.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup driver %q", c.Dedup.Driver))
	}
	return errors.Join(errs...)
}
