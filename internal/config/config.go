package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/worldsync/internal/room"
	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/internal/ws"
)

const envPrefix = "WORLDSYNC_"

type Config struct {
	Addr        string        `yaml:"addr"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"` // "json" or "console"
	DatabaseURL string        `yaml:"database_url"`
	World       world.Config  `yaml:"world"`
	Tick        TickConfig    `yaml:"tick"`
	Session     SessionConfig `yaml:"session"`
}

type TickConfig struct {
	RateHz              int           `yaml:"rate_hz"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval"`
	PlayerIdleTimeout   time.Duration `yaml:"player_idle_timeout"`
	ObjectSweepInterval time.Duration `yaml:"object_sweep_interval"`
	ObjectMaxAge        time.Duration `yaml:"object_max_age"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	SettleStep          float64       `yaml:"settle_step"`
}

type SessionConfig struct {
	OutboxSize    int     `yaml:"outbox_size"`
	MaxViolations int     `yaml:"max_violations"`
	InboundRate   float64 `yaml:"inbound_rate"` // messages per second
	InboundBurst  int     `yaml:"inbound_burst"`
	ReadLimit     int64   `yaml:"read_limit"` // bytes per frame
}

func Default() Config {
	return Config{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "console",
		World:     world.DefaultConfig(),
		Tick: TickConfig{
			RateHz:              10,
			SnapshotInterval:    15 * time.Second,
			PlayerIdleTimeout:   2 * time.Minute,
			ObjectSweepInterval: 5 * time.Minute,
			ObjectMaxAge:        30 * time.Minute,
			SettleDelay:         time.Second,
			SettleStep:          0.1,
		},
		Session: SessionConfig{
			OutboxSize:    128,
			MaxViolations: 10,
			InboundRate:   60,
			InboundBurst:  120,
			ReadLimit:     64 * 1024,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// WORLDSYNC_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// FromEnv loads .env (if present) into the environment and then calls
// Load with WORLDSYNC_CONFIG as the file path.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.Getenv(envPrefix + "CONFIG"))
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: addr is required")
	case c.World.MaxPlayers < 1:
		return errors.New("config: world.max_players must be at least 1")
	case c.World.MaxObjects < 0:
		return errors.New("config: world.max_objects must not be negative")
	case c.Tick.RateHz < 1 || c.Tick.RateHz > 120:
		return fmt.Errorf("config: tick.rate_hz %d out of range 1-120", c.Tick.RateHz)
	case c.Tick.SettleStep <= 0:
		return errors.New("config: tick.settle_step must be positive")
	case c.Tick.SnapshotInterval <= 0 || c.Tick.PlayerIdleTimeout <= 0 ||
		c.Tick.ObjectSweepInterval <= 0 || c.Tick.ObjectMaxAge <= 0:
		return errors.New("config: tick intervals must be positive")
	case c.Session.OutboxSize < 1:
		return errors.New("config: session.outbox_size must be at least 1")
	case c.Session.InboundRate <= 0 || c.Session.InboundBurst < 1:
		return errors.New("config: session inbound rate and burst must be positive")
	}
	return nil
}

func (c Config) Room() room.Config {
	return room.Config{
		World:               c.World,
		TickInterval:        time.Second / time.Duration(c.Tick.RateHz),
		SnapshotInterval:    c.Tick.SnapshotInterval,
		PlayerIdleTimeout:   c.Tick.PlayerIdleTimeout,
		ObjectSweepInterval: c.Tick.ObjectSweepInterval,
		ObjectMaxAge:        c.Tick.ObjectMaxAge,
		Settle:              world.SettleRule{Delay: c.Tick.SettleDelay, Step: c.Tick.SettleStep},
	}
}

func (c Config) WS() ws.Options {
	opts := ws.DefaultOptions()
	opts.OutboxSize = c.Session.OutboxSize
	opts.MaxViolations = c.Session.MaxViolations
	opts.InboundRate = rate.Limit(c.Session.InboundRate)
	opts.InboundBurst = c.Session.InboundBurst
	if c.Session.ReadLimit > 0 {
		opts.ReadLimit = c.Session.ReadLimit
	}
	return opts
}

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("ADDR", &c.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DATABASE_URL", &c.DatabaseURL)
	if err := integer("MAX_PLAYERS", &c.World.MaxPlayers); err != nil {
		return err
	}
	if err := integer("MAX_OBJECTS", &c.World.MaxObjects); err != nil {
		return err
	}
	if err := integer("TICK_RATE_HZ", &c.Tick.RateHz); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envPrefix + "GROUND_LEVEL"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sGROUND_LEVEL: %w", envPrefix, err)
		}
		c.World.GroundLevel = f
	}
	return nil
}
