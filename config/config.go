package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	Port           string   `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	Environment    string   `envconfig:"ENVIRONMENT" default:"development" validate:"oneof=development staging production test"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173" validate:"min=1,dive,required"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`

	JWTSecret  string        `envconfig:"JWT_SECRET" default:"change-me-in-production" validate:"required"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"24h" validate:"gt=0"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"10" validate:"min=4,max=31"`

	StoreBackend    string        `envconfig:"STORE_BACKEND" default:"redis" validate:"oneof=redis badger"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s" validate:"gt=0"`
	BadgerPath      string        `envconfig:"BADGER_PATH" default:"data/badger"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"200" validate:"min=0"`
	RoomIdleTimeout time.Duration `envconfig:"ROOM_IDLE_TIMEOUT" default:"1m" validate:"gt=0"`

	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"20" validate:"gt=0"`
	RateLimitRefill time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s" validate:"gt=0"`

	WebSocket WebSocketConfig
	Redis     RedisConfig

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
}

type WebSocketConfig struct {
	ReadLimit  int64 `envconfig:"WS_READ_LIMIT" default:"65536" validate:"gt=0"`
	SendBuffer int   `envconfig:"WS_SEND_BUFFER" default:"256" validate:"gt=0"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379" validate:"numeric"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Load reads an optional .env file, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger builds the process logger: JSON in production, the shared
// text logger everywhere else
func NewLogger(c *Config) *slog.Logger {
	if !c.IsProduction() {
		return logs.GetLoggerFromString(strings.ToUpper(c.LogLevel))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
