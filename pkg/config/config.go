package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"nearcast/pkg/validation"
)

// StaticPeer is a broadcaster configured by hand, used when mDNS discovery
// is disabled or unavailable.
type StaticPeer struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	ControlPort int    `yaml:"control_port"`
}

type Config struct {
	Node struct {
		Name string `yaml:"name"`
	} `yaml:"node"`

	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"api"`

	Control struct {
		Address             string        `yaml:"address"`
		HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
		CodeLength          int           `yaml:"code_length"`
		AutoAccept          bool          `yaml:"auto_accept"`
		HandshakesPerSecond float64       `yaml:"handshakes_per_second"`
		HandshakeBurst      int           `yaml:"handshake_burst"`
	} `yaml:"control"`

	Media struct {
		Address       string        `yaml:"address"`
		MTU           int           `yaml:"mtu"`
		QueueLength   int           `yaml:"queue_length"`
		PeerFreshness time.Duration `yaml:"peer_freshness"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		HelloInterval time.Duration `yaml:"hello_interval"`
	} `yaml:"media"`

	Heartbeat struct {
		Interval  time.Duration `yaml:"interval"`
		MissLimit int           `yaml:"miss_limit"`
	} `yaml:"heartbeat"`

	Discovery struct {
		Mode     string        `yaml:"mode"` // "mdns" or "static"
		Service  string        `yaml:"service"`
		Domain   string        `yaml:"domain"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Static   []StaticPeer  `yaml:"static"`
	} `yaml:"discovery"`

	Broadcast struct {
		FlagFile  string `yaml:"flag_file"` // empty keeps the flag in memory
		InitialOn bool   `yaml:"initial_on"`
	} `yaml:"broadcast"`

	Sink struct {
		Path string `yaml:"path"`
	} `yaml:"sink"`

	History struct {
		Limit int `yaml:"limit"`
	} `yaml:"history"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRatio    float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		OperatorSecret string        `yaml:"operator_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// The node name doubles as the advertised mDNS instance and the device
	// name sent in handshakes, so it obeys the same limits.
	if err := validation.ValidateDeviceName(c.Node.Name); err != nil {
		return fmt.Errorf("node.name: %w", err)
	}

	// API
	if err := validation.ValidateNonEmptyString(c.API.Address, "api.address"); err != nil {
		return err
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("api.read_timeout must be > 0")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be > 0")
	}
	if c.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("api.shutdown_timeout must be > 0")
	}

	// Control
	if err := validation.ValidateNonEmptyString(c.Control.Address, "control.address"); err != nil {
		return err
	}
	if c.Control.HandshakeTimeout <= 0 {
		return fmt.Errorf("control.handshake_timeout must be > 0")
	}
	if c.Control.CodeLength < 4 || c.Control.CodeLength > 8 {
		return fmt.Errorf("control.code_length must be between 4 and 8")
	}

	// Media
	if err := validation.ValidateNonEmptyString(c.Media.Address, "media.address"); err != nil {
		return err
	}
	if err := validation.ValidateMTU(c.Media.MTU); err != nil {
		return fmt.Errorf("media.mtu: %w", err)
	}
	if c.Media.PeerFreshness <= 0 {
		return fmt.Errorf("media.peer_freshness must be > 0")
	}
	if c.Media.SweepInterval <= 0 {
		return fmt.Errorf("media.sweep_interval must be > 0")
	}
	if c.Media.HelloInterval <= 0 {
		return fmt.Errorf("media.hello_interval must be > 0")
	}

	// Heartbeat
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be > 0")
	}
	if c.Heartbeat.MissLimit <= 0 {
		return fmt.Errorf("heartbeat.miss_limit must be > 0")
	}

	// Discovery
	if c.Discovery.Mode != "mdns" && c.Discovery.Mode != "static" {
		return fmt.Errorf("discovery.mode must be \"mdns\" or \"static\"")
	}
	if c.Discovery.Mode == "mdns" && c.Discovery.Service == "" {
		return fmt.Errorf("discovery.service must not be empty when discovery.mode=mdns")
	}
	for i, p := range c.Discovery.Static {
		if p.Host == "" {
			return fmt.Errorf("discovery.static[%d].host must not be empty", i)
		}
		if err := validation.ValidatePort(p.ControlPort); err != nil {
			return fmt.Errorf("discovery.static[%d].control_port: %w", i, err)
		}
	}

	// History
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must be >= 0")
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}

	// Logging
	if err := validation.ValidateNonEmptyString(c.Logging.Level, "logging.level"); err != nil {
		return err
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.OperatorSecret == "" {
			return fmt.Errorf("auth.operator_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "nearcast"
	}
	cfg.Node.Name = hostname

	cfg.API.Address = ":7462"
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.ShutdownTimeout = 30 * time.Second

	cfg.Control.Address = ":7460"
	cfg.Control.HandshakeTimeout = 10 * time.Second
	cfg.Control.CodeLength = 4
	cfg.Control.AutoAccept = false
	cfg.Control.HandshakesPerSecond = 1
	cfg.Control.HandshakeBurst = 3

	cfg.Media.Address = ":7461"
	cfg.Media.MTU = 1200
	cfg.Media.QueueLength = 64
	cfg.Media.PeerFreshness = 6 * time.Second
	cfg.Media.SweepInterval = time.Second
	cfg.Media.HelloInterval = 2 * time.Second

	cfg.Heartbeat.Interval = 2 * time.Second
	cfg.Heartbeat.MissLimit = 3

	cfg.Discovery.Mode = "mdns"
	cfg.Discovery.Service = "_nearcast._tcp"
	cfg.Discovery.Domain = "local."
	cfg.Discovery.CacheTTL = 5 * time.Second

	cfg.Broadcast.FlagFile = ""
	cfg.Broadcast.InitialOn = false

	cfg.Sink.Path = ""

	cfg.History.Limit = 50

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRatio = 1

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.OperatorSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if name := os.Getenv("NEARCAST_NODE_NAME"); name != "" {
		c.Node.Name = name
	}
	if addr := os.Getenv("NEARCAST_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if addr := os.Getenv("NEARCAST_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if addr := os.Getenv("NEARCAST_MEDIA_ADDRESS"); addr != "" {
		c.Media.Address = addr
	}
	if v := os.Getenv("NEARCAST_AUTO_ACCEPT"); v != "" {
		if auto, err := strconv.ParseBool(v); err == nil {
			c.Control.AutoAccept = auto
		}
	}
	if level := os.Getenv("NEARCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("NEARCAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("NEARCAST_OPERATOR_SECRET"); secret != "" {
		c.Auth.OperatorSecret = secret
	}
	if addr := os.Getenv("NEARCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
