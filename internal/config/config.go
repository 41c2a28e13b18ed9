package config

import "time"

// Handshake modes for the realtime channel.
const (
	// HandshakeToken attaches the token to the connection handshake.
	HandshakeToken = "token"
	// HandshakeMessage additionally sends an authenticate message after connecting.
	HandshakeMessage = "message"
)

// Config holds client configuration values.
type Config struct {
	APIBaseURL       string         `mapstructure:"api_base_url" yaml:"api_base_url"`
	RealtimeURL      string         `mapstructure:"realtime_url" yaml:"realtime_url"`
	DatabasePath     string         `mapstructure:"database_path" yaml:"database_path"`
	LogLevel         string         `mapstructure:"log_level" yaml:"log_level"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout" yaml:"request_timeout"`
	ValidateInterval time.Duration  `mapstructure:"validate_interval" yaml:"validate_interval"`
	PollInterval     time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	PresenceTimeout  time.Duration  `mapstructure:"presence_timeout" yaml:"presence_timeout"`
	Realtime         RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Backend          BackendConfig  `mapstructure:"backend" yaml:"backend"`
}

// RealtimeConfig configures the realtime channel transport.
type RealtimeConfig struct {
	Handshake         string        `mapstructure:"handshake" yaml:"handshake"`
	Reconnection      bool          `mapstructure:"reconnection" yaml:"reconnection"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max" yaml:"reconnect_delay_max"`
}

// BackendConfig configures the development backend.
type BackendConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	// CommandRateLimit caps realtime commands per connection per minute. 0 disables it.
	CommandRateLimit int `mapstructure:"command_rate_limit" yaml:"command_rate_limit"`
}

// Default returns configuration with the fallback endpoints and timings.
func Default() Config {
	return Config{
		APIBaseURL:       "http://localhost:8080/api",
		RealtimeURL:      "ws://localhost:8080/ws",
		DatabasePath:     "wirechat-sync.db",
		LogLevel:         "info",
		RequestTimeout:   10 * time.Second,
		ValidateInterval: 5 * time.Minute,
		PollInterval:     30 * time.Second,
		PresenceTimeout:  3 * time.Second,
		Realtime: RealtimeConfig{
			Handshake:         HandshakeToken,
			Reconnection:      true,
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			ReconnectDelayMax: 5 * time.Second,
		},
		Backend: BackendConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			JWTSecret:         "change-me-in-production",
			JWTIssuer:         "wirechat-devbackend",
			JWTAudience:       "wirechat",
			TokenTTL:          24 * time.Hour,
			CommandRateLimit:  120,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Reconnection is a bool and cannot be told apart from its zero value, so it is
// left untouched.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.RealtimeURL != "" {
		c.RealtimeURL = other.RealtimeURL
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.ValidateInterval != 0 {
		c.ValidateInterval = other.ValidateInterval
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.PresenceTimeout != 0 {
		c.PresenceTimeout = other.PresenceTimeout
	}
	if other.Realtime.Handshake != "" {
		c.Realtime.Handshake = other.Realtime.Handshake
	}
	if other.Realtime.ReconnectAttempts != 0 {
		c.Realtime.ReconnectAttempts = other.Realtime.ReconnectAttempts
	}
	if other.Realtime.ReconnectDelay != 0 {
		c.Realtime.ReconnectDelay = other.Realtime.ReconnectDelay
	}
	if other.Realtime.ReconnectDelayMax != 0 {
		c.Realtime.ReconnectDelayMax = other.Realtime.ReconnectDelayMax
	}
	if other.Backend.Addr != "" {
		c.Backend.Addr = other.Backend.Addr
	}
	if other.Backend.JWTSecret != "" {
		c.Backend.JWTSecret = other.Backend.JWTSecret
	}
	if other.Backend.TokenTTL != 0 {
		c.Backend.TokenTTL = other.Backend.TokenTTL
	}
}
