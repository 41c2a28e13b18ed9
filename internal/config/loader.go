package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRECHAT_SYNC"
	envConfigDefaultPath = "WIRECHAT_SYNC_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "wirechat-sync.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// Validate rejects values the client cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errors.New("config: api_base_url is required")
	}
	if strings.TrimSpace(c.RealtimeURL) == "" {
		return errors.New("config: realtime_url is required")
	}
	if c.ValidateInterval <= 0 || c.PollInterval <= 0 {
		return errors.New("config: validate_interval and poll_interval must be positive")
	}
	switch c.Realtime.Handshake {
	case HandshakeToken, HandshakeMessage:
	default:
		return fmt.Errorf("config: unknown realtime.handshake %q", c.Realtime.Handshake)
	}
	if c.Realtime.ReconnectAttempts < 0 {
		return errors.New("config: realtime.reconnect_attempts must not be negative")
	}
	return nil
}

// ValidateBackend rejects values the development backend cannot run with.
func (c Config) ValidateBackend() error {
	if strings.TrimSpace(c.Backend.Addr) == "" {
		return errors.New("config: backend.addr is required")
	}
	if c.Backend.JWTSecret == "" {
		return errors.New("config: backend.jwt_secret is required")
	}
	if c.Backend.TokenTTL <= 0 {
		return errors.New("config: backend.token_ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("api_base_url", cfg.APIBaseURL)
	v.SetDefault("realtime_url", cfg.RealtimeURL)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("validate_interval", cfg.ValidateInterval)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("presence_timeout", cfg.PresenceTimeout)
	v.SetDefault("realtime.handshake", cfg.Realtime.Handshake)
	v.SetDefault("realtime.reconnection", cfg.Realtime.Reconnection)
	v.SetDefault("realtime.reconnect_attempts", cfg.Realtime.ReconnectAttempts)
	v.SetDefault("realtime.reconnect_delay", cfg.Realtime.ReconnectDelay)
	v.SetDefault("realtime.reconnect_delay_max", cfg.Realtime.ReconnectDelayMax)
	v.SetDefault("backend.addr", cfg.Backend.Addr)
	v.SetDefault("backend.read_header_timeout", cfg.Backend.ReadHeaderTimeout)
	v.SetDefault("backend.shutdown_timeout", cfg.Backend.ShutdownTimeout)
	v.SetDefault("backend.jwt_secret", cfg.Backend.JWTSecret)
	v.SetDefault("backend.jwt_issuer", cfg.Backend.JWTIssuer)
	v.SetDefault("backend.jwt_audience", cfg.Backend.JWTAudience)
	v.SetDefault("backend.token_ttl", cfg.Backend.TokenTTL)
	v.SetDefault("backend.command_rate_limit", cfg.Backend.CommandRateLimit)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
