package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// MESSAGE_STORE selects the message repository: mongo or memory
	MessageStore  string        `envconfig:"MESSAGE_STORE" default:"mongo"`
	MongoURI      string        `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string        `envconfig:"MONGODB_DATABASE" default:"taskportal"`
	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// REDIS_ADDR enables cross-instance fan-out when set
	RedisAddr string `envconfig:"REDIS_ADDR"`
	ServerID  string `envconfig:"SERVER_ID" default:"server-1"`

	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:5173"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string `envconfig:"LOG_FORMAT" default:"text"`

	DefaultPageSize   int    `envconfig:"DEFAULT_PAGE_SIZE" default:"50"`
	MaxPageSize       int    `envconfig:"MAX_PAGE_SIZE" default:"100"`
	StaleCursorPolicy string `envconfig:"STALE_CURSOR_POLICY" default:"newest"`

	SendDedupeTTL   time.Duration `envconfig:"SEND_DEDUPE_TTL" default:"2m"`
	IdleAfter       time.Duration `envconfig:"IDLE_AFTER" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.MessageStore {
	case StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("MESSAGE_STORE must be %q or %q, got %q", StoreMongo, StoreMemory, c.MessageStore)
	}

	switch c.StaleCursorPolicy {
	case "newest", "reject":
	default:
		return fmt.Errorf("STALE_CURSOR_POLICY must be \"newest\" or \"reject\", got %q", c.StaleCursorPolicy)
	}

	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive, got DEFAULT_PAGE_SIZE=%d MAX_PAGE_SIZE=%d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE %d exceeds MAX_PAGE_SIZE %d", c.DefaultPageSize, c.MaxPageSize)
	}

	return nil
}
