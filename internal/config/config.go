// Package config loads the service configuration with Viper.
//
// Values are layered: built-in defaults < optional YAML file < environment
// variables. Environment variable names are unprefixed (PORT, DB_HOST,
// JWT_SECRET, ...) and bound to their keys explicitly.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Migrate  bool   `mapstructure:"migrate"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type AuthConfig struct {
	JWTSecret                string `mapstructure:"jwt_secret"`
	JWTAlgorithm             string `mapstructure:"jwt_algorithm"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
	BcryptCost               int    `mapstructure:"bcrypt_cost"`
}

// TokenTTL is the default access token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.AccessTokenExpireMinutes) * time.Minute
}

// RedisConfig enables the shared view cache and login rate limiting when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	LoginPerMinute int `mapstructure:"login_per_minute"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is
	// honoured. Empty means the peer address is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

func (r RabbitMQConfig) Enabled() bool { return r.URL != "" }

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SweeperConfig struct {
	Grace time.Duration `mapstructure:"grace"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.allowed_origins":  "ALLOWED_ORIGINS",
	"server.read_timeout":     "SERVER_READ_TIMEOUT",
	"server.write_timeout":    "SERVER_WRITE_TIMEOUT",
	"server.shutdown_timeout": "SERVER_SHUTDOWN_TIMEOUT",

	"store.driver": "STORE_DRIVER",

	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
	"database.ssl_mode": "DB_SSLMODE",
	"database.migrate":  "DB_MIGRATE",

	"mongo.uri":      "MONGO_URI",
	"mongo.database": "MASTER_DB",

	"auth.jwt_secret":                  "JWT_SECRET",
	"auth.jwt_algorithm":               "JWT_ALGORITHM",
	"auth.access_token_expire_minutes": "ACCESS_TOKEN_EXPIRE_MINUTES",
	"auth.bcrypt_cost":                 "BCRYPT_COST",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"cache.ttl": "CACHE_TTL",

	"ratelimit.login_per_minute": "LOGIN_RATE_PER_MINUTE",
	"ratelimit.trusted_proxies":  "TRUSTED_PROXIES",

	"rabbitmq.url": "RABBITMQ_URL",

	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",

	"sweeper.grace": "SWEEPER_GRACE",
}

func bindEnvVars(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("store.driver", DriverPostgres)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "tenancy")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.migrate", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "master_db")

	v.SetDefault("auth.jwt_algorithm", "HS256")
	v.SetDefault("auth.access_token_expire_minutes", 60)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.trusted_proxies", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("sweeper.grace", 30*time.Second)
}

// Load reads configuration from configPath (optional) and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tenant-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.AccessTokenExpireMinutes <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.RateLimit.LoginPerMinute < 0 {
		return errors.New("LOGIN_RATE_PER_MINUTE must not be negative")
	}
	for _, p := range c.RateLimit.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
	}
	if c.Sweeper.Grace < 0 {
		return errors.New("SWEEPER_GRACE must not be negative")
	}
	return nil
}
