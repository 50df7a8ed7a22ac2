package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	API       API       `mapstructure:"api"`
	Countdown Countdown `mapstructure:"countdown"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	Pointer   Pointer   `mapstructure:"pointer"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
}

// API holds the configuration for the brokerage REST API.
type API struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	UserID         string        `mapstructure:"user_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Countdown holds the configuration for the local trade timer.
type Countdown struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Reconcile holds the configuration for outcome polling.
type Reconcile struct {
	Interval       time.Duration `mapstructure:"interval"`
	FirstPollDelay time.Duration `mapstructure:"first_poll_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

// Pointer selects where the open trade pointer is persisted.
type Pointer struct {
	Backend string `mapstructure:"backend"` // "sqlite" or "redis"
	Key     string `mapstructure:"key"`
}

// Database holds the configuration for the local sqlite database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis holds the configuration for the redis pointer backend.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds the configuration for the status server. Port 0 disables it.
type Server struct {
	Port int `mapstructure:"port"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:3000/api/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.user_id", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.rate_limit", 5) // requests per second
	v.SetDefault("api.rate_limit_burst", 2)

	v.SetDefault("countdown.tick_interval", time.Second)

	v.SetDefault("reconcile.interval", 2*time.Second)
	v.SetDefault("reconcile.first_poll_delay", time.Duration(0))
	v.SetDefault("reconcile.max_attempts", 150)
	v.SetDefault("reconcile.max_wait", 10*time.Minute)

	v.SetDefault("pointer.backend", "sqlite")
	v.SetDefault("pointer.key", "active_trade")

	v.SetDefault("database.dsn", "tradewatch.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 0)
}

// LoadConfig reads configuration from a config.yml under path, a .env file
// and environment variables, in increasing precedence. Flags bound in fs
// override everything. A missing config file is not an error.
func LoadConfig(path string, fs *pflag.FlagSet) (config Config, err error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.SetEnvPrefix("TRADEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if fs != nil {
		if err = v.BindPFlags(fs); err != nil {
			return
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.Countdown.TickInterval <= 0 {
		return errors.New("config: countdown.tick_interval must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		return errors.New("config: reconcile.interval must be positive")
	}
	if c.Reconcile.MaxAttempts <= 0 && c.Reconcile.MaxWait <= 0 {
		return errors.New("config: reconcile needs max_attempts or max_wait to bound polling")
	}
	switch c.Pointer.Backend {
	case "sqlite", "redis":
	default:
		return errors.New("config: pointer.backend must be sqlite or redis")
	}
	if c.Pointer.Key == "" {
		return errors.New("config: pointer.key is required")
	}
	return nil
}
