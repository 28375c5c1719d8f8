// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendFirebase = "firebase"
)

type Config struct {
	Port        string `env:"PORT"               envDefault:"8080"`
	LogLevel    string `env:"FUNNEL_LOG_LEVEL"   envDefault:"info"`
	PublicURL   string `env:"FUNNEL_PUBLIC_URL"  envDefault:"http://localhost:8080"`
	CheckoutURL string `env:"FUNNEL_CHECKOUT_URL" envDefault:"https://pay.hotmart.com/checkout"`
	ScriptPath  string `env:"FUNNEL_SCRIPT_PATH"`

	Store     StoreConfig     `envPrefix:"FUNNEL_STORE_"`
	Analytics AnalyticsConfig `envPrefix:"FUNNEL_ANALYTICS_"`
	Telegram  TelegramConfig  `envPrefix:"FUNNEL_TELEGRAM_"`
	Player    PlayerConfig    `envPrefix:"FUNNEL_PLAYER_"`
	Timings   Timings         `envPrefix:"FUNNEL_"`
}

type StoreConfig struct {
	Backend    string        `env:"BACKEND"     envDefault:"memory"`
	SQLitePath string        `env:"SQLITE_PATH" envDefault:"funnel.db"`
	RedisAddr  string        `env:"REDIS_ADDR"  envDefault:"localhost:6379"`
	RedisPass  string        `env:"REDIS_PASSWORD"`
	RedisDB    int           `env:"REDIS_DB"    envDefault:"0"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS"`
	FirebaseDatabaseURL string `env:"FIREBASE_DATABASE_URL"`
	FirebaseRoot        string `env:"FIREBASE_ROOT" envDefault:"funnel"`
}

type AnalyticsConfig struct {
	CollectorURL string `env:"COLLECTOR_URL"`
	AMQPURL      string `env:"AMQP_URL"`
	Exchange     string `env:"EXCHANGE" envDefault:"funnel.events"`
	Buffer       int    `env:"BUFFER"   envDefault:"1024"`
	Log          bool   `env:"LOG"      envDefault:"true"`
}

type TelegramConfig struct {
	Token string `env:"TOKEN"`
}

type PlayerConfig struct {
	ScriptURL string `env:"SCRIPT_URL"`
}

// Timings tune the funnel pacing.
type Timings struct {
	TypingInterval  time.Duration `env:"TYPING_INTERVAL"    envDefault:"50ms"`
	PopupCheckDelay time.Duration `env:"POPUP_CHECK_DELAY"  envDefault:"100ms"`
	ReportTimeout   time.Duration `env:"CHECKOUT_REPORT_TIMEOUT" envDefault:"30s"`
	Countdown       int           `env:"COUNTDOWN_SECONDS"  envDefault:"2820"`
	SpotsCeiling    int           `env:"SPOTS_CEILING"      envDefault:"50"`
	SpotsFloor      int           `env:"SPOTS_FLOOR"        envDefault:"15"`
	SpotsInterval   time.Duration `env:"SPOTS_INTERVAL"     envDefault:"45s"`
	SessionIdle     time.Duration `env:"SESSION_IDLE"       envDefault:"30m"`
}

// Load reads an optional .env file, then the environment.
func Load(dotenv ...string) (Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendFirebase:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendFirebase && c.Store.FirebaseDatabaseURL == "" {
		return errors.New("firebase backend needs FUNNEL_STORE_FIREBASE_DATABASE_URL")
	}
	if c.Timings.SpotsFloor > c.Timings.SpotsCeiling {
		return fmt.Errorf("spots floor %d above ceiling %d", c.Timings.SpotsFloor, c.Timings.SpotsCeiling)
	}
	if c.Timings.Countdown <= 0 {
		return fmt.Errorf("countdown must be positive, got %d", c.Timings.Countdown)
	}
	if c.Timings.ReportTimeout <= c.Timings.PopupCheckDelay {
		return fmt.Errorf("checkout report timeout %s must exceed popup check delay %s",
			c.Timings.ReportTimeout, c.Timings.PopupCheckDelay)
	}
	return nil
}
