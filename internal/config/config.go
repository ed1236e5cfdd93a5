package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TRACKER"

type Config struct {
	API        APIConfig
	Poll       PollConfig
	Checkpoint CheckpointConfig
	ResultsDir string
	LogLevel   string
	HTTPPort   int
	WatchAddr  string
}

type APIConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
}

type PollConfig struct {
	Interval      time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

type CheckpointConfig struct {
	Dir       string
	Staleness time.Duration
}

// SetDefaults registers every key with its default so env vars bind even
// without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.rate_limit", 0)

	v.SetDefault("poll.interval", "2.5s")
	v.SetDefault("poll.retry_interval", "0s")
	v.SetDefault("poll.max_retries", 3)

	v.SetDefault("checkpoint.dir", defaultDataDir("checkpoint"))
	v.SetDefault("checkpoint.staleness", "24h")

	v.SetDefault("results.dir", defaultDataDir("results"))

	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8000)
	v.SetDefault("watch.addr", "")
}

// Load reads configuration from defaults, then file (if non-empty), then
// TRACKER_* environment variables, then whatever is already set on v (bound
// flags).
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:   strings.TrimSpace(v.GetString("api.base_url")),
			Token:     v.GetString("api.token"),
			Timeout:   v.GetDuration("api.timeout"),
			RateLimit: v.GetFloat64("api.rate_limit"),
		},
		Poll: PollConfig{
			Interval:      v.GetDuration("poll.interval"),
			RetryInterval: v.GetDuration("poll.retry_interval"),
			MaxRetries:    v.GetInt("poll.max_retries"),
		},
		Checkpoint: CheckpointConfig{
			Dir:       v.GetString("checkpoint.dir"),
			Staleness: v.GetDuration("checkpoint.staleness"),
		},
		ResultsDir: v.GetString("results.dir"),
		LogLevel:   v.GetString("log.level"),
		HTTPPort:   v.GetInt("server.port"),
		WatchAddr:  v.GetString("watch.addr"),
	}
	if cfg.Poll.RetryInterval == 0 {
		cfg.Poll.RetryInterval = 2 * cfg.Poll.Interval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) url, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.MaxRetries < 1 {
		errs = append(errs, errors.New("poll.max_retries must be at least 1"))
	}
	if c.Checkpoint.Staleness <= 0 {
		errs = append(errs, errors.New("checkpoint.staleness must be positive"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.HTTPPort))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func defaultDataDir(name string) string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tasktracker", name)
	}
	return filepath.Join(".tasktracker", name)
}
