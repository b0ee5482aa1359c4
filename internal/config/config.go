package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	MessageBackend string `env:"MESSAGE_BACKEND" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`

	FirestoreProjectID          string `env:"FIRESTORE_PROJECT_ID"`
	FirestoreMessagesCollection string `env:"FIRESTORE_MESSAGES_COLLECTION" envDefault:"messages"`

	TaskAPIBaseURL        string `env:"TASK_API_BASE_URL"`
	TaskAPIToken          string `env:"TASK_API_TOKEN"`
	TaskAPITimeoutSeconds int    `env:"TASK_API_TIMEOUT_SECONDS" envDefault:"15"`

	JWTSecret           string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`

	WatchBuffer int    `env:"WATCH_BUFFER" envDefault:"64"`
	GroupOrder  string `env:"GROUP_ORDER" envDefault:"desc"`
	Timezone    string `env:"TIMEZONE" envDefault:"Local"`

	SendRateLimitMax           int `env:"SEND_RATE_LIMIT_MAX" envDefault:"30"`
	SendRateLimitWindowSeconds int `env:"SEND_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.MessageBackend = strings.ToLower(strings.TrimSpace(cfg.MessageBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa que el backend elegido tenga sus claves obligatorias.
func (c *Config) Validate() error {
	switch c.MessageBackend {
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for live updates on the postgres backend", ErrInvalidConfig)
		}
	case BackendFirestore:
		if strings.TrimSpace(c.FirestoreProjectID) == "" {
			return fmt.Errorf("%w: FIRESTORE_PROJECT_ID is required for the firestore backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown MESSAGE_BACKEND %q", ErrInvalidConfig, c.MessageBackend)
	}
	if c.GroupOrder != "asc" && c.GroupOrder != "desc" {
		return fmt.Errorf("%w: GROUP_ORDER must be asc or desc", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: TIMEZONE: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location resuelve TIMEZONE; las etiquetas de dia se calculan en esa zona.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *Config) TaskAPITimeout() time.Duration {
	if c.TaskAPITimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TaskAPITimeoutSeconds) * time.Second
}

func (c *Config) JWTAccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c *Config) SendRateLimitWindow() time.Duration {
	return time.Duration(c.SendRateLimitWindowSeconds) * time.Second
}
