package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "MOCKAPI"
	defaultBaseURL        = "https://mockapi.com"
	defaultLatencyMin     = 100 * time.Millisecond
	defaultLatencyMax     = 600 * time.Millisecond
	defaultTokenSecret    = "secret"
	defaultTokenTTL       = 3 * time.Hour
	defaultStoreDriver    = storeDriverMemory
	defaultSQLitePath     = "mockapi.db"
	defaultFilePath       = "mockapi.json"
	defaultRedisAddress   = "127.0.0.1:6379"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"

	storeDriverMemory = "memory"
	storeDriverSQLite = "sqlite"
	storeDriverFile   = "file"
	storeDriverRedis  = "redis"
)

// AppConfig captures runtime configuration for the mock backend.
type AppConfig struct {
	BaseURL       string
	LatencyMin    time.Duration
	LatencyMax    time.Duration
	TokenSecret   string
	TokenTTL      time.Duration
	StoreDriver   string
	StorePath     string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	SeedPath      string
	HTTPAddress   string
	LogLevel      string
	LogFormat     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("mock.base_url", defaultBaseURL)
	configViper.SetDefault("latency.min", defaultLatencyMin)
	configViper.SetDefault("latency.max", defaultLatencyMax)
	configViper.SetDefault("token.secret", defaultTokenSecret)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.path", "")
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("seed.path", "")
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		BaseURL:       strings.TrimRight(strings.TrimSpace(configViper.GetString("mock.base_url")), "/"),
		LatencyMin:    configViper.GetDuration("latency.min"),
		LatencyMax:    configViper.GetDuration("latency.max"),
		TokenSecret:   configViper.GetString("token.secret"),
		TokenTTL:      configViper.GetDuration("token.ttl"),
		StoreDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		StorePath:     strings.TrimSpace(configViper.GetString("store.path")),
		RedisAddress:  configViper.GetString("redis.address"),
		RedisPassword: configViper.GetString("redis.password"),
		RedisDB:       configViper.GetInt("redis.db"),
		SeedPath:      strings.TrimSpace(configViper.GetString("seed.path")),
		HTTPAddress:   configViper.GetString("http.address"),
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
	}

	if cfg.StorePath == "" {
		switch cfg.StoreDriver {
		case storeDriverSQLite:
			cfg.StorePath = defaultSQLitePath
		case storeDriverFile:
			cfg.StorePath = defaultFilePath
		}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("mock.base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.LatencyMin < 0 || c.LatencyMax < 0 {
		return fmt.Errorf("latency bounds must not be negative")
	}
	if c.LatencyMax < c.LatencyMin {
		return fmt.Errorf("latency.max must not be below latency.min")
	}
	if strings.TrimSpace(c.TokenSecret) == "" {
		return fmt.Errorf("token.secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	switch c.StoreDriver {
	case storeDriverMemory, storeDriverSQLite, storeDriverFile:
	case storeDriverRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.StoreDriver)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q is not supported", c.LogFormat)
	}
	return nil
}
