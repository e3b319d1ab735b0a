package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mango_go/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	defaultCapacity     = 256
	defaultCommitment   = "processed"
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultMetricsAddr  = "localhost:6060"
)

// Config holds all application settings.
// LoadConfig reads the YAML file first, then lets environment variables override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	RPC struct {
		WSURL          string        `yaml:"ws_url"`
		Commitment     string        `yaml:"commitment"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		HandshakeLimit time.Duration `yaml:"handshake_timeout"`
	} `yaml:"rpc"`

	EventQueue struct {
		Account  string `yaml:"account"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"event_queue"`

	Market domain.PerpMarket `yaml:"market"`

	Alerts []domain.AlertSpec `yaml:"alerts"`

	Storage struct {
		Path    string `yaml:"path"` // empty = user config dir
		Enabled bool   `yaml:"enabled"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "file", Err: err}
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes, applies defaults and env overrides, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPC.Commitment == "" {
		c.RPC.Commitment = defaultCommitment
	}
	if c.RPC.PingInterval == 0 {
		c.RPC.PingInterval = defaultPingInterval
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = defaultReadTimeout
	}
	if c.RPC.HandshakeLimit == 0 {
		c.RPC.HandshakeLimit = 10 * time.Second
	}
	if c.EventQueue.Capacity == 0 {
		c.EventQueue.Capacity = defaultCapacity
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.RPC.WSURL, "ws://") && !strings.HasPrefix(c.RPC.WSURL, "wss://") {
		return &domain.ConfigError{Field: "rpc.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.RPC.WSURL)}
	}

	switch c.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return &domain.ConfigError{Field: "rpc.commitment", Err: fmt.Errorf("unknown commitment %q", c.RPC.Commitment)}
	}

	if c.EventQueue.Account == "" {
		return &domain.ConfigError{Field: "event_queue.account", Err: errors.New("must not be empty")}
	}
	if c.EventQueue.Capacity < 0 {
		return &domain.ConfigError{Field: "event_queue.capacity", Err: errors.New("must be positive")}
	}

	if err := c.Market.Validate(); err != nil {
		return err
	}

	for _, spec := range c.Alerts {
		if _, err := domain.NewPriceAlert(c.Market.Name, spec); err != nil {
			return err
		}
	}
	return nil
}

// overrideWithEnv replaces settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("MANGO_RPC_WS_URL"); url != "" {
		cfg.RPC.WSURL = url
	}
	if account := os.Getenv("MANGO_EVENT_QUEUE"); account != "" {
		cfg.EventQueue.Account = account
	}
	if level := os.Getenv("MANGO_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
