package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"api"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Negotiation struct {
		TrickleICE      bool `yaml:"trickle_ice"`
		AllowICERestart bool `yaml:"allow_ice_restart"`
		ReceiveAudio    bool `yaml:"receive_audio"`
		ReceiveVideo    bool `yaml:"receive_video"`
	} `yaml:"negotiation"`

	Codecs struct {
		Opus struct {
			MaxAverageBitrate int  `yaml:"max_average_bitrate"`
			Stereo            bool `yaml:"stereo"`
			DTX               bool `yaml:"dtx"`
			FEC               bool `yaml:"fec"`
		} `yaml:"opus"`
		VideoMaxBitrateKbps int  `yaml:"video_max_bitrate_kbps"`
		SCTPPort            int  `yaml:"sctp_port"`
		DisableBundle       bool `yaml:"disable_bundle"`
	} `yaml:"codecs"`

	// Quirks maps a transport implementation name to its signal overrides.
	Quirks map[string]QuirkProfile `yaml:"quirks"`

	Bandwidth struct {
		Enabled         bool          `yaml:"enabled"`
		LimitPercentage int           `yaml:"limit_percentage"`
		WindowLength    int           `yaml:"window_length"`
		UploadOnly      bool          `yaml:"upload_only"`
		SampleInterval  time.Duration `yaml:"sample_interval"`
	} `yaml:"bandwidth"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Address    string        `yaml:"address"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		PoolSize   int           `yaml:"pool_size"`
		PresenceTTL time.Duration `yaml:"presence_ttl"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		MessageBurst      int     `yaml:"message_burst"`
	} `yaml:"rate_limiting"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool   `yaml:"enabled"`
		JaegerEndpoint string `yaml:"jaeger_endpoint"`
		ServiceName    string `yaml:"service_name"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// QuirkProfile describes how one transport implementation deviates from the
// canonical connectivity signals.
type QuirkProfile struct {
	// SignalRemap rewrites raw signals before canonicalization, e.g.
	// "connecting" -> "checking".
	SignalRemap map[string]string `yaml:"signal_remap"`
	// SpuriousNew treats a "new" signal arriving after checking started as
	// "failed".
	SpuriousNew bool `yaml:"spurious_new"`
	// ClosedDebounce delays trust in a closed signal to avoid racing
	// transport teardown. Bounded at 10ms by Validate.
	ClosedDebounce time.Duration `yaml:"closed_debounce"`
	// UnsupportedFeedback lists rtcp-fb mechanisms this implementation
	// cannot honor; consumed by the description pipeline.
	UnsupportedFeedback []string `yaml:"unsupported_feedback"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Bandwidth.Enabled {
		if c.Bandwidth.LimitPercentage <= 0 || c.Bandwidth.LimitPercentage > 100 {
			return fmt.Errorf("bandwidth.limit_percentage must be in (0, 100]")
		}
		if c.Bandwidth.WindowLength <= 0 {
			return fmt.Errorf("bandwidth.window_length must be > 0")
		}
		if c.Bandwidth.SampleInterval <= 0 {
			return fmt.Errorf("bandwidth.sample_interval must be > 0")
		}
	}

	for name, quirk := range c.Quirks {
		if quirk.ClosedDebounce < 0 || quirk.ClosedDebounce > 10*time.Millisecond {
			return fmt.Errorf("quirks.%s.closed_debounce must be in [0, 10ms]", name)
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.PresenceTTL <= 0 {
			return fmt.Errorf("redis.presence_ttl must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
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

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.API.Address = ":8080"
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.ShutdownTimeout = 30 * time.Second

	cfg.Negotiation.TrickleICE = true
	cfg.Negotiation.AllowICERestart = true
	cfg.Negotiation.ReceiveAudio = true
	cfg.Negotiation.ReceiveVideo = true

	cfg.Codecs.Opus.MaxAverageBitrate = 40000
	cfg.Codecs.Opus.FEC = true

	cfg.Quirks = map[string]QuirkProfile{
		"chromium": {
			SignalRemap: map[string]string{"connecting": "checking"},
		},
		"gecko": {
			SpuriousNew:    true,
			ClosedDebounce: 10 * time.Millisecond,
		},
	}

	cfg.Bandwidth.Enabled = true
	cfg.Bandwidth.LimitPercentage = 90
	cfg.Bandwidth.WindowLength = 5
	cfg.Bandwidth.UploadOnly = false
	cfg.Bandwidth.SampleInterval = 20 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.PresenceTTL = 90 * time.Second

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MessagesPerSecond = 100
	cfg.RateLimiting.MessageBurst = 200

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.ServiceName = "peerlink"
	cfg.Tracing.SampleRate = 0.1

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PEERLINK_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if addr := os.Getenv("PEERLINK_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if level := os.Getenv("PEERLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PEERLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("PEERLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
