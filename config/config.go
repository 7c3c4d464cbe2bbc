// Package config loads sketchroom settings from an optional YAML file, a .env
// file and SKETCHROOM_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	HostPort string `mapstructure:"host_port"`
	// DevMode points redis, dynamodb and sqs at local endpoints without TLS or real credentials.
	DevMode bool `mapstructure:"dev_mode"`
	// InstanceId names this process in room ownership leases. Generated when empty.
	InstanceId      string        `mapstructure:"instance_id"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WSConfig bounds a single websocket connection.
type WSConfig struct {
	MaxMessageSize    int64   `mapstructure:"max_message_size"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
	SendBuffer        int     `mapstructure:"send_buffer"`
}

type RoomConfig struct {
	DefaultId       string  `mapstructure:"default_id"`
	MaxStrokePoints int     `mapstructure:"max_stroke_points"`
	MaxWidth        float64 `mapstructure:"max_width"`
}

type ClusterConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisEndpoint string        `mapstructure:"redis_endpoint"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	ClaimTimeout  time.Duration `mapstructure:"claim_timeout"`
}

type ArchiveConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
	Table            string `mapstructure:"table"`
	SQSEndpoint      string `mapstructure:"sqs_endpoint"`
	RoomClosedQueue  string `mapstructure:"room_closed_queue"`
	JournalFlushMs   int    `mapstructure:"journal_flush_ms"`
	CounterFlushMs   int    `mapstructure:"counter_flush_ms"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	WS      WSConfig      `mapstructure:"ws"`
	Room    RoomConfig    `mapstructure:"room"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks every section and reports all violations at once.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateWS(c.WS),
		validateRoom(c.Room),
		validateCluster(c.Cluster),
		validateArchive(c.Archive),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.HostPort == "" {
		errs = append(errs, "server.host_port must not be empty")
	}
	if len(s.AllowedOrigins) == 0 {
		errs = append(errs, "server.allowed_origins must list at least one origin (or \"*\")")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateWS(w WSConfig) error {
	var errs []string
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("ws.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if w.MessagesPerSecond <= 0 {
		errs = append(errs, "ws.messages_per_second must be positive")
	}
	if w.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ws.burst must be >= 1, got %d", w.Burst))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("ws.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRoom(r RoomConfig) error {
	var errs []string
	if r.DefaultId == "" {
		errs = append(errs, "room.default_id must not be empty")
	}
	if r.MaxStrokePoints < 1 {
		errs = append(errs, fmt.Sprintf("room.max_stroke_points must be >= 1, got %d", r.MaxStrokePoints))
	}
	if r.MaxWidth <= 0 {
		errs = append(errs, "room.max_width must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateCluster(c ClusterConfig) error {
	if !c.Enabled {
		return nil
	}
	var errs []string
	if c.RedisEndpoint == "" {
		errs = append(errs, "cluster.redis_endpoint must not be empty when cluster is enabled")
	}
	if c.ClaimTTL < time.Second {
		errs = append(errs, fmt.Sprintf("cluster.claim_ttl must be >= 1s, got %s", c.ClaimTTL))
	}
	if c.ClaimTimeout <= 0 {
		errs = append(errs, "cluster.claim_timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateArchive(a ArchiveConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.Table == "" {
		errs = append(errs, "archive.table must not be empty when archive is enabled")
	}
	if a.RoomClosedQueue == "" {
		errs = append(errs, "archive.room_closed_queue must not be empty when archive is enabled")
	}
	if a.JournalFlushMs < 1 {
		errs = append(errs, fmt.Sprintf("archive.journal_flush_ms must be >= 1, got %d", a.JournalFlushMs))
	}
	if a.CounterFlushMs < 1 {
		errs = append(errs, fmt.Sprintf("archive.counter_flush_ms must be >= 1, got %d", a.CounterFlushMs))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), a .env file in the working directory if present, and
// SKETCHROOM_ environment variables, in increasing order of precedence.
func Load(path string) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetEnvPrefix("SKETCHROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host_port", ":8080")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ws.max_message_size", 64*1024)
	v.SetDefault("ws.messages_per_second", 60)
	v.SetDefault("ws.burst", 120)
	v.SetDefault("ws.send_buffer", 256)

	v.SetDefault("room.default_id", "default")
	v.SetDefault("room.max_stroke_points", 5000)
	v.SetDefault("room.max_width", 200)

	v.SetDefault("cluster.enabled", false)
	v.SetDefault("cluster.redis_endpoint", "localhost:6379")
	v.SetDefault("cluster.claim_ttl", "30s")
	v.SetDefault("cluster.claim_timeout", "2s")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dynamodb_endpoint", "http://localhost:8000")
	v.SetDefault("archive.table", "sketchroom")
	v.SetDefault("archive.sqs_endpoint", "http://localhost:9324")
	v.SetDefault("archive.room_closed_queue", "RoomClosedQueue")
	v.SetDefault("archive.journal_flush_ms", 500)
	v.SetDefault("archive.counter_flush_ms", 60000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
