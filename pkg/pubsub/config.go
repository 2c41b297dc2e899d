package pubsub

import (
	"fmt"
	"time"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	Partitions int    `mapstructure:"partitions"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Config selects the event bus.
type Config struct {
	Driver        string      `mapstructure:"driver"` // "none", "redis", "kafka"
	ChannelPrefix string      `mapstructure:"channel_prefix"`
	Redis         RedisConfig `mapstructure:"redis"`
	Kafka         KafkaConfig `mapstructure:"kafka"`
}

// DefaultConfig returns the default configuration: events disabled.
func DefaultConfig() Config {
	return Config{
		Driver:        "none",
		ChannelPrefix: "chillsync",
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    "localhost:9092",
			Partitions: 4,
		},
	}
}

// NewPublisher creates the publisher named by cfg.Driver.
func NewPublisher(cfg Config) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "redis":
		return NewRedisPublisher(cfg.Redis)
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka, RoomEventsTopic(cfg.ChannelPrefix))
	default:
		return nil, fmt.Errorf("unsupported events driver: %s", cfg.Driver)
	}
}
