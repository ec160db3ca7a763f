// Package config provides configuration management for the authflow agent.
// It handles loading the YAML configuration file, overlaying AUTHFLOW_* environment
// variables, applying defaults and validating the settings the auth core needs
// before any network call is made.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost                   = "127.0.0.1"
	DefaultPort                   = 8765
	DefaultRequestTimeout         = 12 * time.Second
	DefaultRefreshInterval        = 60 * time.Second
	DefaultRefreshThreshold       = 5 * time.Minute
	DefaultProcessingReleaseDelay = time.Second
	DefaultErrorRedirectDelay     = 3 * time.Second
	DefaultOutcomeTTL             = 5 * time.Minute
	DefaultStorageType            = "file"
	DefaultStoragePath            = "~/.authflow/storage.json"
)

// ErrMissingAPIBaseURL is returned by Validate when no backend base URL is configured.
var ErrMissingAPIBaseURL = errors.New("config: api-base-url is required")

// Config represents the agent configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the loopback interface the callback server binds to.
	Host string `yaml:"host" json:"host" env:"HOST"`
	// Port is the callback server port; provider redirect URIs must point at it.
	Port int `yaml:"port" json:"port" env:"PORT"`

	// APIBaseURL is the base URL of the auth-core backend.
	APIBaseURL string `yaml:"api-base-url" json:"api-base-url" env:"API_BASE_URL"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug" env:"DEBUG"`
	// LoggingToFile switches log output from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file" env:"LOGGING_TO_FILE"`
	// LogsMaxTotalSizeMB caps the log directory size; <= 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb" env:"LOGS_MAX_TOTAL_SIZE_MB"`

	// RequestTimeout aborts a single backend request.
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout" env:"REQUEST_TIMEOUT"`

	// InsecureSkipStateCheck lets a callback with a mismatched state proceed with a warning.
	// Only for local development against a test backend.
	InsecureSkipStateCheck bool `yaml:"insecure-skip-state-check" json:"insecure-skip-state-check" env:"INSECURE_SKIP_STATE_CHECK"`

	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh" envPrefix:"REFRESH_"`
	Callback  CallbackConfig  `yaml:"callback" json:"callback" envPrefix:"CALLBACK_"`
	Storage   StorageConfig   `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
}

// RefreshConfig controls the background token refresh coordinator.
type RefreshConfig struct {
	Interval  time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	Threshold time.Duration `yaml:"threshold" json:"threshold" env:"THRESHOLD"`
}

// CallbackConfig tunes duplicate-callback absorption.
type CallbackConfig struct {
	ProcessingReleaseDelay time.Duration `yaml:"processing-release-delay" json:"processing-release-delay" env:"PROCESSING_RELEASE_DELAY"`
	ErrorRedirectDelay     time.Duration `yaml:"error-redirect-delay" json:"error-redirect-delay" env:"ERROR_REDIRECT_DELAY"`
	OutcomeTTL             time.Duration `yaml:"outcome-ttl" json:"outcome-ttl" env:"OUTCOME_TTL"`
}

// StorageConfig selects the key-value backend that replaces browser local storage.
type StorageConfig struct {
	// Type is one of memory, file, postgres, redis or object.
	Type     string              `yaml:"type" json:"type" env:"TYPE"`
	Path     string              `yaml:"path" json:"path" env:"PATH"`
	Postgres PostgresStoreConfig `yaml:"postgres" json:"postgres" envPrefix:"PG_"`
	Redis    RedisStoreConfig    `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Object   ObjectStoreConfig   `yaml:"object" json:"object" envPrefix:"OBJECT_"`
}

type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn" json:"dsn" env:"DSN"`
	Schema string `yaml:"schema" json:"schema" env:"SCHEMA"`
	Table  string `yaml:"table" json:"table" env:"TABLE"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"ADDR"`
	Password string `yaml:"password" json:"-" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB"`
	Prefix   string `yaml:"prefix" json:"prefix" env:"PREFIX"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
	Bucket    string `yaml:"bucket" json:"bucket" env:"BUCKET"`
	AccessKey string `yaml:"access-key" json:"-" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret-key" json:"-" env:"SECRET_KEY"`
	Region    string `yaml:"region" json:"region" env:"REGION"`
	Prefix    string `yaml:"prefix" json:"prefix" env:"PREFIX"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl" env:"USE_SSL"`
}

// ProvidersConfig holds the per-provider OAuth client registration.
type ProvidersConfig struct {
	Google OAuthClientConfig `yaml:"google" json:"google" envPrefix:"GOOGLE_"`
	Kakao  OAuthClientConfig `yaml:"kakao" json:"kakao" envPrefix:"KAKAO_"`
	Naver  OAuthClientConfig `yaml:"naver" json:"naver" envPrefix:"NAVER_"`
}

// OAuthClientConfig is a public (PKCE) client registration at a provider.
type OAuthClientConfig struct {
	ClientID    string   `yaml:"client-id" json:"client-id" env:"CLIENT_ID"`
	RedirectURI string   `yaml:"redirect-uri" json:"redirect-uri" env:"REDIRECT_URI"`
	Scopes      []string `yaml:"scopes" json:"scopes" env:"SCOPES" envSeparator:","`
}

// Provider returns the client registration for a provider name, if known.
func (p *ProvidersConfig) Provider(name string) (OAuthClientConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google":
		return p.Google, true
	case "kakao":
		return p.Kakao, true
	case "naver":
		return p.Naver, true
	default:
		return OAuthClientConfig{}, false
	}
}

// LoadConfig reads the YAML file at configFile, overlays the environment and applies defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file when optional is true.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	configFile = strings.TrimSpace(configFile)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if len(data) > 0 {
				if err = yaml.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("failed to parse config file: %w", err)
				}
			}
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "AUTHFLOW_"}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero values with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Refresh.Interval <= 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}
	if c.Refresh.Threshold <= 0 {
		c.Refresh.Threshold = DefaultRefreshThreshold
	}
	if c.Callback.ProcessingReleaseDelay <= 0 {
		c.Callback.ProcessingReleaseDelay = DefaultProcessingReleaseDelay
	}
	if c.Callback.ErrorRedirectDelay <= 0 {
		c.Callback.ErrorRedirectDelay = DefaultErrorRedirectDelay
	}
	if c.Callback.OutcomeTTL <= 0 {
		c.Callback.OutcomeTTL = DefaultOutcomeTTL
	}
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultStorageType
	}
	if c.Storage.Type == "file" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
}

// Validate reports configuration errors that must stop the agent before it talks to the backend.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: configuration is nil")
	}
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("config: api-base-url must be an http(s) URL: %q", c.APIBaseURL)
	}
	switch c.Storage.Type {
	case "memory", "file", "postgres", "redis", "object":
	default:
		return fmt.Errorf("config: unsupported storage type %q", c.Storage.Type)
	}
	return nil
}

// CallbackBaseURL is the loopback origin that provider redirect URIs are expected to target.
func (c *Config) CallbackBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}
