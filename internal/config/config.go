package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/MayoPickle/tofu-chillsync/pkg/config"
	pkglog "github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
	"github.com/MayoPickle/tofu-chillsync/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Room      RoomConfig
	Upload    UploadConfig
	Storage   storage.Config
	Events    pubsub.Config
	Log       pkglog.Config
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RoomConfig struct {
	IDLength         int  `mapstructure:"id_length"`
	IDMaxAttempts    int  `mapstructure:"id_max_attempts"`
	ChatHistoryLimit int  `mapstructure:"chat_history_limit"`
	HostOnlyControl  bool `mapstructure:"host_only_control"`
}

type UploadConfig struct {
	MaxSize   int64  `mapstructure:"max_size"`
	FormField string `mapstructure:"form_field"`
}

// Load reads ./config/config.yaml (optional) and the environment.
func Load() (*Config, error) {
	return LoadFrom("./config", "")
}

// LoadFrom is Load with an explicit search directory or file.
func LoadFrom(configPath, configFile string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config", pkgconfig.WithConfigFile(configFile))
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.local.base_path", "UPLOAD_DIR")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("events.driver", "EVENTS_DRIVER")
	v.BindEnv("events.redis.address", "REDIS_ADDRESS")
	v.BindEnv("events.redis.password", "REDIS_PASSWORD")
	v.BindEnv("events.kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Storage.S3.PresignExpiry = parseDuration(v, "storage.s3.presign_expiry", 12*time.Hour)
	cfg.Events.Redis.ReadTimeout = parseDuration(v, "events.redis.read_timeout", 3*time.Second)
	cfg.Events.Redis.WriteTimeout = parseDuration(v, "events.redis.write_timeout", 3*time.Second)

	cfg.Log.ServiceName = "chillsync"

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("room.id_length", 6)
	v.SetDefault("room.id_max_attempts", 16)
	v.SetDefault("room.chat_history_limit", 500)
	v.SetDefault("room.host_only_control", false)

	v.SetDefault("upload.max_size", 500<<20)
	v.SetDefault("upload.form_field", "video")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./uploads")
	v.SetDefault("storage.local.public_prefix", "/uploads")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "chillsync")
	v.SetDefault("storage.s3.prefix", "videos")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("storage.s3.presign_expiry", "12h")

	events := pubsub.DefaultConfig()
	v.SetDefault("events.driver", events.Driver)
	v.SetDefault("events.channel_prefix", events.ChannelPrefix)
	v.SetDefault("events.redis.address", events.Redis.Address)
	v.SetDefault("events.redis.db", events.Redis.DB)
	v.SetDefault("events.redis.pool_size", events.Redis.PoolSize)
	v.SetDefault("events.redis.read_timeout", "3s")
	v.SetDefault("events.redis.write_timeout", "3s")
	v.SetDefault("events.kafka.brokers", events.Kafka.Brokers)
	v.SetDefault("events.kafka.partitions", events.Kafka.Partitions)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
