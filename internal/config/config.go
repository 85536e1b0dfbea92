// Package config loads runtime configuration and channel tables.
//
// Runtime settings come from built-in defaults, then an optional YAML file,
// then XRCORE_* environment variables (XRCORE_BUS_BACKEND -> bus.backend).
// Keys avoid underscores so the environment mapping stays unambiguous.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "XRCORE_"

// Config is the runtime configuration of xrcore. Each section maps to one
// top-level YAML key and to XRCORE_<SECTION>_<KEY> environment variables.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Governor GovernorConfig `koanf:"governor"`
	Channels ChannelsConfig `koanf:"channels"`
	Bus      BusConfig      `koanf:"bus"`
	Store    StoreConfig    `koanf:"store"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Engine   EngineConfig   `koanf:"engine"`
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// GovernorConfig holds the recovery debounce window and trip threshold.
type GovernorConfig struct {
	Debounce  int `koanf:"debounce"`
	Threshold int `koanf:"threshold"`
}

// ChannelsConfig selects the channel table. File wins over Table, which
// wins over Preset.
type ChannelsConfig struct {
	Preset string        `koanf:"preset"` // four, twelve
	File   string        `koanf:"file"`   // .cue or .yaml channel table
	Table  []ChannelSpec `koanf:"table"`
}

// BusConfig selects where frames are published.
type BusConfig struct {
	Backend string      `koanf:"backend"` // memory, redis, none
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig addresses the Redis stream used by the redis backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
	MaxLen   int64  `koanf:"maxlen"`
}

// StoreConfig locates the SQLite recording database.
type StoreConfig struct {
	Path string `koanf:"path"` // empty disables recording
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Addr string `koanf:"addr"` // empty disables the /metrics listener
}

// EngineConfig tunes the control loop.
type EngineConfig struct {
	Tick  time.Duration `koanf:"tick"`  // zero disables the control tick
	Queue int           `koanf:"queue"` // initial event queue capacity
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("governor.debounce", 16)
	k.Set("governor.threshold", 4)
	k.Set("channels.preset", PresetFour)
	k.Set("bus.backend", "memory")
	k.Set("bus.redis.addr", "localhost:6379")
	k.Set("bus.redis.stream", "xrcore:frames")
	k.Set("bus.redis.maxlen", 10000)
	k.Set("store.path", "")
	k.Set("metrics.addr", "")
	k.Set("engine.tick", "0s")
	k.Set("engine.queue", 64)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that do not depend on the channel table.
func (c *Config) Validate() error {
	switch c.Bus.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("config: unknown bus backend %q", c.Bus.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Governor.Threshold < 0 || c.Governor.Threshold > 255 {
		return fmt.Errorf("config: governor threshold %d not in 0..255", c.Governor.Threshold)
	}
	if c.Engine.Tick < 0 {
		return fmt.Errorf("config: negative engine tick %s", c.Engine.Tick)
	}
	return nil
}
