package kafka

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/utils"
)

type Config struct {
	Brokers           []string
	TLS               *tls.Config
	Partitions        int
	ReplicationFactor int
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
}

func (c *Config) setDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
}

// Broker implements broker.Broker on Kafka topics. It keeps one long-lived
// writer for every publish and opens one reader per Consume call.
type Broker struct {
	cfg    Config
	dialer *kafka.Dialer
	writer *kafka.Writer
	logger *zap.Logger

	mu      sync.Mutex
	readers map[*kafka.Reader]struct{}
	closed  bool
}

var _ broker.Broker = (*Broker)(nil)

func NewBroker(cfg Config, logger *zap.Logger) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &kafka.Dialer{
		Timeout:   cfg.DialTimeout,
		DualStack: true,
		TLS:       cfg.TLS,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Transport: &kafka.Transport{
			DialTimeout: cfg.DialTimeout,
			TLS:         cfg.TLS,
		},
	}

	return &Broker{
		cfg:     cfg,
		dialer:  dialer,
		writer:  writer,
		logger:  logger,
		readers: make(map[*kafka.Reader]struct{}),
	}, nil
}

// NewBrokerFromEnv picks TLS brokers (AVIEN_KAFKA_URL plus base64 certs)
// when STATE=prod and the plain KAFKA_BROKER list otherwise.
func NewBrokerFromEnv(cfg Config, logger *zap.Logger) (*Broker, error) {
	state := utils.GetEnv("STATE")

	switch state {
	case "prod":
		tlsCfg, err := utils.TLSConfigFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Brokers = []string{utils.GetEnv("AVIEN_KAFKA_URL")}
		cfg.TLS = tlsCfg
		if logger != nil {
			logger.Info("Starting Kafka broker in PROD mode (TLS)")
		}
	default:
		if brokers := utils.SplitList(utils.GetEnv("KAFKA_BROKER")); len(brokers) > 0 {
			cfg.Brokers = brokers
		}
		if logger != nil {
			logger.Info("Starting Kafka broker in DEV mode (local)", zap.Strings("brokers", cfg.Brokers))
		}
	}
	return NewBroker(cfg, logger)
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) track(r *kafka.Reader) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.readers[r] = struct{}{}
	return true
}

func (b *Broker) untrack(r *kafka.Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.readers, r)
}

// Close stops every reader and flushes the writer. It is safe to call more
// than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := make([]*kafka.Reader, 0, len(b.readers))
	for r := range b.readers {
		readers = append(readers, r)
	}
	b.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
