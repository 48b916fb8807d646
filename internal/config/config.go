// Package config loads server settings from an optional YAML file and
// environment variables.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/whisper/stranger-chat/internal/messaging"
	"github.com/whisper/stranger-chat/internal/store"
	"github.com/whisper/stranger-chat/internal/ws"
)

// DefaultFileName is the config file looked up without extension.
const DefaultFileName = "stranger"

// Config is the full server configuration. Every key can be overridden by
// the upper-cased environment variable of the same name, e.g. LISTEN_ADDR.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxFrameSize      int64         `mapstructure:"max_frame_size"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`

	RedisAddr   string `mapstructure:"redis_addr"`   // empty disables rate limiting
	NATSURL     string `mapstructure:"nats_url"`     // empty disables stats fan-out
	DatabaseURL string `mapstructure:"database_url"` // empty disables persistence
	Migrate     bool   `mapstructure:"migrate"`

	AdminToken string `mapstructure:"admin_token"`
	ServerName string `mapstructure:"server_name"`
}

// Load reads fileName.yaml from the given directories (the working directory
// when none are given), then applies environment overrides. A missing file
// is not an error.
func Load(fileName string, paths ...string) (*Config, error) {
	v := viper.New()

	srv := ws.DefaultServerConfig()
	v.SetDefault("listen_addr", srv.ListenAddr)
	v.SetDefault("worker_pool_size", srv.WorkerPoolSize)
	v.SetDefault("max_connections", srv.MaxConnections)
	v.SetDefault("max_frame_size", srv.MaxFrameSize)
	v.SetDefault("read_timeout", srv.ReadTimeout)
	v.SetDefault("write_timeout", srv.WriteTimeout)
	v.SetDefault("heartbeat_interval", srv.Heartbeat.Interval)
	v.SetDefault("heartbeat_timeout", srv.Heartbeat.Timeout)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("nats_url", messaging.DefaultNATSConfig().URL)
	v.SetDefault("database_url", store.DefaultConfig().DatabaseURL)
	v.SetDefault("migrate", true)
	v.SetDefault("admin_token", "")
	v.SetDefault("server_name", "")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// An empty REDIS_ADDR, NATS_URL or DATABASE_URL disables that backend.
	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Printf("[config] %s.yaml not found, using defaults and environment", fileName)
	} else {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ServerName == "" {
		cfg.ServerName, _ = os.Hostname()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "ws-1"
	}
	return &cfg, nil
}

// Server returns the WebSocket server settings.
func (c *Config) Server() ws.ServerConfig {
	return ws.ServerConfig{
		ListenAddr:     c.ListenAddr,
		WorkerPoolSize: c.WorkerPoolSize,
		MaxConnections: c.MaxConnections,
		MaxFrameSize:   c.MaxFrameSize,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: c.HeartbeatInterval,
			Timeout:  c.HeartbeatTimeout,
		},
	}
}

// NATS returns the NATS client settings.
func (c *Config) NATS() messaging.NATSConfig {
	nc := messaging.DefaultNATSConfig()
	nc.URL = c.NATSURL
	nc.Name = "stranger-chat-" + c.ServerName
	return nc
}

// Store returns the PostgreSQL settings.
func (c *Config) Store() store.Config {
	sc := store.DefaultConfig()
	sc.DatabaseURL = c.DatabaseURL
	sc.Migrate = c.Migrate
	return sc
}
