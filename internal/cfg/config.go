package cfg

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 9876
	DefaultSymbols  = 100
	DefaultTickRate = 100_000

	maxSymbols = 65536
)

// Server configures the broadcast daemon.
type Server struct {
	Port     int    `yaml:"port"`
	Symbols  int    `yaml:"symbols"`
	TickRate uint32 `yaml:"tick_rate"`
}

// Client configures the feed consumer.
type Client struct {
	Addr             string `yaml:"addr"`
	TopSymbols       int    `yaml:"top_symbols"`
	UpdateIntervalMS int    `yaml:"update_interval_ms"`
	WSListen         string `yaml:"ws_listen"`
	ValidateChecksum bool   `yaml:"validate_checksum"`
	ValidateSequence bool   `yaml:"validate_sequence"`
}

// Logging selects the sink and verbosity.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config holds every setting for both binaries.
type Config struct {
	Server  Server  `yaml:"server"`
	Client  Client  `yaml:"client"`
	Logging Logging `yaml:"logging"`
}

// Default returns the configuration both binaries start from.
func Default() Config {
	return Config{
		Server: Server{
			Port:     DefaultPort,
			Symbols:  DefaultSymbols,
			TickRate: DefaultTickRate,
		},
		Client: Client{
			Addr:             fmt.Sprintf("127.0.0.1:%d", DefaultPort),
			TopSymbols:       20,
			UpdateIntervalMS: 500,
			ValidateChecksum: true,
			ValidateSequence: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate fails fast on any value the servers cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.Symbols < 1 || c.Server.Symbols > maxSymbols {
		return fmt.Errorf("symbol count %d out of range [1, %d]", c.Server.Symbols, maxSymbols)
	}
	if c.Server.TickRate == 0 {
		return fmt.Errorf("tick rate must be positive")
	}
	if c.Client.Addr == "" {
		return fmt.Errorf("client addr is required")
	}
	if c.Client.TopSymbols < 1 {
		return fmt.Errorf("top symbol count must be positive")
	}
	if c.Client.UpdateIntervalMS < 1 {
		return fmt.Errorf("update interval must be positive")
	}
	return nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("FEEDSIM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FEEDSIM_SYMBOLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Symbols = n
		}
	}
	if v := os.Getenv("FEEDSIM_TICK_RATE"); v != "" {
		if rate, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Server.TickRate = uint32(rate)
		}
	}
	if v := os.Getenv("FEEDSIM_ADDR"); v != "" {
		cfg.Client.Addr = v
	}
	if v := os.Getenv("FEEDSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
