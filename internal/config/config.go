package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath          = "config.toml"
	DefaultHTTPAddr            = ":8080"
	DefaultJWTExpiresIn        = "24h"
	DefaultMaxImageSizeKB      = 512
	DefaultPrefetchWorkers     = 8
	DefaultPrefetchQueueSize   = 64
	DefaultPrefetchJobTimeout  = 30
	DefaultPushTimeout         = 10
	DefaultBreakerFailures     = 5
	DefaultBreakerTimeout      = 60
	DefaultHistoryMaxMessages  = 1000
	DefaultIngestRatePerSecond = 50
	DefaultIngestBurst         = 100
)

var (
	ErrNoUsers        = errors.New("config: no users configured")
	ErrNoJWTSecret    = errors.New("config: auth.jwt_secret is required")
	ErrDuplicateUser  = errors.New("config: duplicate user")
	ErrInvalidSection = errors.New("config: invalid value")
)

type Config struct {
	Log      LogConfig      `toml:"log" yaml:"log"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Prefetch PrefetchConfig `toml:"prefetch" yaml:"prefetch"`
	Push     PushConfig     `toml:"push" yaml:"push"`
	History  HistoryConfig  `toml:"history" yaml:"history"`
	Ingest   IngestConfig   `toml:"ingest" yaml:"ingest"`
	Users    []UserConfig   `toml:"users" yaml:"users" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
	// AllowedOrigins lists browser origins allowed to open /stream; "*"
	// allows any. Same-host origins are always accepted.
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" yaml:"jwt_expires_in"`
}

// ExpiresIn parses JWTExpiresIn, falling back to the default.
func (c AuthConfig) ExpiresIn() (time.Duration, error) {
	raw := strings.TrimSpace(c.JWTExpiresIn)
	if raw == "" {
		raw = DefaultJWTExpiresIn
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: auth.jwt_expires_in: %v", ErrInvalidSection, err)
	}
	return d, nil
}

type PrefetchConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// MaxImageSize is in KB.
	MaxImageSize      int64  `toml:"max_image_size" yaml:"max_image_size" validate:"gte=0"`
	Workers           int    `toml:"workers" yaml:"workers" validate:"gte=0"`
	QueueSize         int    `toml:"queue_size" yaml:"queue_size" validate:"gte=0"`
	UserAgent         string `toml:"user_agent" yaml:"user_agent"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds" yaml:"job_timeout_seconds" validate:"gte=0"`
}

func (c PrefetchConfig) MaxImageBytes() int64 {
	return c.MaxImageSize * 1024
}

func (c PrefetchConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

type PushConfig struct {
	TimeoutSeconds        int    `toml:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	BreakerFailures       uint32 `toml:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeoutSeconds int    `toml:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds" validate:"gte=0"`
}

func (c PushConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c PushConfig) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSeconds) * time.Second
}

type HistoryConfig struct {
	// MaxMessages caps each conversation log; 0 keeps everything.
	MaxMessages int `toml:"max_messages" yaml:"max_messages" validate:"gte=0"`
}

type IngestConfig struct {
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `toml:"burst" yaml:"burst" validate:"gte=0"`
}

type UserConfig struct {
	Name       string          `toml:"name" yaml:"name" validate:"required"`
	Highlights []string        `toml:"highlights" yaml:"highlights"`
	Push       []PushTarget    `toml:"push" yaml:"push" validate:"dive"`
	Networks   []NetworkConfig `toml:"networks" yaml:"networks" validate:"dive"`
}

type PushTarget struct {
	ID       string `toml:"id" yaml:"id" validate:"required"`
	Endpoint string `toml:"endpoint" yaml:"endpoint" validate:"required,url"`
	Token    string `toml:"token" yaml:"token"`
}

type NetworkConfig struct {
	Name     string   `toml:"name" yaml:"name"`
	Host     string   `toml:"host" yaml:"host" validate:"required"`
	Nick     string   `toml:"nick" yaml:"nick" validate:"required"`
	Channels []string `toml:"channels" yaml:"channels"`
}

// Defaults returns the configuration used before any file is decoded.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Prefetch: PrefetchConfig{
			Enabled:           true,
			MaxImageSize:      DefaultMaxImageSizeKB,
			Workers:           DefaultPrefetchWorkers,
			QueueSize:         DefaultPrefetchQueueSize,
			JobTimeoutSeconds: DefaultPrefetchJobTimeout,
		},
		Push: PushConfig{
			TimeoutSeconds:        DefaultPushTimeout,
			BreakerFailures:       DefaultBreakerFailures,
			BreakerTimeoutSeconds: DefaultBreakerTimeout,
		},
		History: HistoryConfig{
			MaxMessages: DefaultHistoryMaxMessages,
		},
		Ingest: IngestConfig{
			RatePerSecond: DefaultIngestRatePerSecond,
			Burst:         DefaultIngestBurst,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration is usable by the server.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrNoJWTSecret
	}
	if len(c.Users) == 0 {
		return ErrNoUsers
	}
	if _, err := c.Auth.ExpiresIn(); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSection, strings.Join(msgs, "; "))
		}
		return err
	}
	seen := map[string]struct{}{}
	for _, u := range c.Users {
		if _, ok := seen[u.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, u.Name)
		}
		seen[u.Name] = struct{}{}
	}
	return nil
}

// User returns the configured user named name.
func (c Config) User(name string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.Name == name {
			return u, true
		}
	}
	return UserConfig{}, false
}
