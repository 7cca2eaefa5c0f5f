package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-me"

type Config struct {
	Env   string `env:"APP_ENV" envDefault:"dev"`
	Port  int    `env:"PORT" envDefault:"8080"`
	Store string `env:"STORE" envDefault:"postgres"` // postgres | memory

	DB       Database `envPrefix:"DB_"`
	DBURL    string   `env:"DATABASE_URL"`
	Auth     Auth
	Redis    Redis `envPrefix:"REDIS_"`
	Security Security

	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`
	MaxBodyBytes    int64   `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

type Database struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"useradmin"`
	Password string `env:"PASSWORD" envDefault:"useradmin"`
	Name     string `env:"NAME" envDefault:"useradmin"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"5"`
}

type Auth struct {
	JWTSecret  string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`
}

type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Security struct {
	LoginRateLimit     int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow    time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is fine, real deployments inject env vars directly
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DBURL == "" {
		cfg.DBURL = cfg.DB.URL()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	if c.IsProd() && c.Auth.JWTSecret == devJWTSecret {
		return errors.New("JWT_SECRET must be overridden in prod")
	}

	if c.Auth.SessionTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("SESSION_TTL and REFRESH_TTL must be positive")
	}

	return nil
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

func (d Database) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}

	return u.String()
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// RequestTimeout bounds a store call while keeping the request's values and cancellation.
func RequestTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, duration)
}
