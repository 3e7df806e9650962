package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 3000
	DefaultChunkSize     = 2
	DefaultChunkInterval = 50 * time.Millisecond
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Chat   ChatConfig   `yaml:"chat"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	ImagesDir      string   `yaml:"images_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

// ChatConfig controls the streaming chat channel.
type ChatConfig struct {
	ChunkSize     int               `yaml:"chunk_size"`
	ChunkInterval time.Duration     `yaml:"chunk_interval"`
	SendBuffer    int               `yaml:"send_buffer"`
	PingInterval  time.Duration     `yaml:"ping_interval"`
	PongWait      time.Duration     `yaml:"pong_wait"`
	Fallback      string            `yaml:"fallback"`
	Replies       map[string]string `yaml:"replies"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      DefaultPort,
			Host:      "0.0.0.0",
			ImagesDir: "static/images",
		},
		Chat: ChatConfig{
			ChunkSize:     DefaultChunkSize,
			ChunkInterval: DefaultChunkInterval,
			SendBuffer:    256,
			PingInterval:  30 * time.Second,
			PongWait:      60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config file, applying defaults for unspecified fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is like Load but returns the defaults when path does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv overrides the port from $PORT when set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	v := getenv("PORT")
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid PORT %q: %w", v, err)
	}
	c.Server.Port = port
	return c.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be >= 0, got %d", c.Server.MaxConnections)
	}
	if c.Chat.ChunkSize < 1 {
		return fmt.Errorf("chat.chunk_size must be >= 1, got %d", c.Chat.ChunkSize)
	}
	if c.Chat.ChunkInterval <= 0 {
		return fmt.Errorf("chat.chunk_interval must be positive, got %v", c.Chat.ChunkInterval)
	}
	if c.Chat.SendBuffer < 1 {
		return fmt.Errorf("chat.send_buffer must be >= 1, got %d", c.Chat.SendBuffer)
	}
	if c.Chat.PingInterval < 0 || c.Chat.PongWait < 0 {
		return errors.New("chat.ping_interval and chat.pong_wait must not be negative")
	}
	if c.Chat.PingInterval > 0 && c.Chat.PongWait <= c.Chat.PingInterval {
		return fmt.Errorf("chat.pong_wait (%v) must exceed chat.ping_interval (%v)", c.Chat.PongWait, c.Chat.PingInterval)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q not one of json, console", c.Log.Format)
	}
	return nil
}

// Addr returns the listen address host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
