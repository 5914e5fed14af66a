package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"

	// List defaults contain commas, which the env tag syntax reserves.
	defaultAllowedOrigins        = "http://localhost:3000,http://localhost:5173"
	defaultColliderHostPortPairs = "apprtc-ws.webrtc.org:443,apprtc-ws-2.webrtc.org:443"
)

type Config struct {
	Port                   string
	Environment            string
	LogLevel               string
	AllowedOrigins         []string
	JWTSecret              string
	Registry               string
	RoomTTL                time.Duration
	JanitorInterval        time.Duration
	BypassJoinConfirmation bool
	Redis                  RedisConfig
	Collider               ColliderConfig
	TURN                   TURNConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type ColliderConfig struct {
	// HostPortPairs lists the delivery service hosts; the first one is used
	// unless a request overrides it.
	HostPortPairs []string
	Timeout       time.Duration
}

type TURNConfig struct {
	BaseURL string
	Key     string
}

type environment struct {
	Port                   string        `env:"PORT,default=8080" validate:"required,numeric"`
	Environment            string        `env:"ENVIRONMENT,default=development" validate:"oneof=development production"`
	LogLevel               string        `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	AllowedOrigins         string        `env:"ALLOWED_ORIGINS"`
	JWTSecret              string        `env:"JWT_SECRET,default=change-me-in-production" validate:"required"`
	Registry               string        `env:"REGISTRY_BACKEND,default=memory" validate:"oneof=memory redis"`
	RoomTTL                time.Duration `env:"ROOM_TTL,default=24h" validate:"gt=0"`
	JanitorInterval        time.Duration `env:"JANITOR_INTERVAL,default=1m" validate:"gt=0"`
	BypassJoinConfirmation bool          `env:"BYPASS_JOIN_CONFIRMATION,default=false"`
	RedisHost              string        `env:"REDIS_HOST,default=localhost"`
	RedisPort              string        `env:"REDIS_PORT,default=6379" validate:"numeric"`
	RedisPassword          string        `env:"REDIS_PASSWORD"`
	RedisDB                int           `env:"REDIS_DB,default=0" validate:"gte=0"`
	ColliderHostPortPairs  string        `env:"COLLIDER_HOST_PORT_PAIRS"`
	ForwardTimeout         time.Duration `env:"FORWARD_TIMEOUT,default=5s" validate:"gt=0"`
	TURNBaseURL            string        `env:"TURN_BASE_URL,default=https://computeengineondemand.appspot.com"`
	TURNKey                string        `env:"TURN_KEY"`
}

var validate = validator.New()

// Load reads the configuration from the environment, after loading a .env
// file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if e.AllowedOrigins == "" {
		e.AllowedOrigins = defaultAllowedOrigins
	}
	if e.ColliderHostPortPairs == "" {
		e.ColliderHostPortPairs = defaultColliderHostPortPairs
	}
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Config{
		Port:                   e.Port,
		Environment:            e.Environment,
		LogLevel:               e.LogLevel,
		AllowedOrigins:         splitList(e.AllowedOrigins),
		JWTSecret:              e.JWTSecret,
		Registry:               e.Registry,
		RoomTTL:                e.RoomTTL,
		JanitorInterval:        e.JanitorInterval,
		BypassJoinConfirmation: e.BypassJoinConfirmation,
		Redis: RedisConfig{
			Host:     e.RedisHost,
			Port:     e.RedisPort,
			Password: e.RedisPassword,
			DB:       e.RedisDB,
		},
		Collider: ColliderConfig{
			HostPortPairs: splitList(e.ColliderHostPortPairs),
			Timeout:       e.ForwardTimeout,
		},
		TURN: TURNConfig{
			BaseURL: e.TURNBaseURL,
			Key:     e.TURNKey,
		},
	}, nil
}

// splitList parses a comma separated list, dropping blank entries.
func splitList(s string) []string {
	items := lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Compact(items)
}
