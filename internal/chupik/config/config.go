// Package config loads the process configuration.
//
// Sources, later ones winning:
//
//  1. built-in defaults (Default),
//  2. an optional .env file,
//  3. CHUPIK_* environment variables,
//  4. an optional YAML file (CHUPIK_CONFIG_FILE) with the persona text and
//     reply template overrides, which are too long for the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devdenneg/chupik/internal/chupik/nlp"
	"github.com/devdenneg/chupik/internal/chupik/scheduler"
	"github.com/devdenneg/chupik/internal/chupik/settings"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "CHUPIK_"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config is the full process configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// ConfigFile is the optional YAML overlay.
	ConfigFile string `env:"CONFIG_FILE"`

	// Timezone is used by the daily and morning schedules.
	Timezone string `env:"TIMEZONE" envDefault:"UTC"`

	Persona string `env:"PERSONA"`

	Storage    StorageConfig    `envPrefix:"STORAGE_"`
	Generation GenerationConfig `envPrefix:"OPENAI_"`
	Engine     EngineConfig     `envPrefix:"ENGINE_"`
	Schedule   ScheduleConfig   `envPrefix:"SCHEDULE_"`
	HTTP       HTTPConfig       `envPrefix:"HTTP_"`
	Matrix     MatrixConfig     `envPrefix:"MATRIX_"`

	// Templates come from the YAML overlay only.
	Templates *nlp.Templates
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Backend string `env:"BACKEND" envDefault:"sqlite"`
	// Dir holds one JSON file per store for the file backend.
	Dir string `env:"DIR" envDefault:"./data"`
	// DBPath is the SQLite database; it also keeps the Matrix sync token.
	DBPath string `env:"DB_PATH" envDefault:"./data/chupik.db"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"chupik"`
}

// GenerationConfig configures the remote generation client. An empty
// APIKey disables remote generation; every escalation then falls back.
type GenerationConfig struct {
	APIKey            string        `env:"API_KEY"`
	BaseURL           string        `env:"BASE_URL"`
	Model             string        `env:"MODEL"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxTokens         int           `env:"MAX_TOKENS"`
	Temperature       float64       `env:"TEMPERATURE"`
	RequestsPerSecond float64       `env:"RPS"`
	DailyTokenBudget  int           `env:"DAILY_TOKEN_BUDGET" envDefault:"50000"`
}

// EngineConfig tunes the message pipeline.
type EngineConfig struct {
	LocalThreshold       float64       `env:"LOCAL_THRESHOLD" envDefault:"0.8"`
	ReactionChance       float64       `env:"REACTION_CHANCE" envDefault:"0.15"`
	EscalationsPerSender int           `env:"ESCALATIONS_PER_SENDER" envDefault:"20"`
	EscalationWindow     time.Duration `env:"ESCALATION_WINDOW" envDefault:"1m"`
	DisableAutoLearn     bool          `env:"DISABLE_AUTO_LEARN"`

	HistoryCapacity   int           `env:"HISTORY_CAPACITY" envDefault:"40"`
	HistoryExpiration time.Duration `env:"HISTORY_EXPIRATION" envDefault:"20m"`
	GreetingCooldown  time.Duration `env:"GREETING_COOLDOWN" envDefault:"30m"`
}

// ScheduleConfig holds the periodic loops.
type ScheduleConfig struct {
	SilenceScan time.Duration `env:"SILENCE_SCAN" envDefault:"1m"`
	Daily       string        `env:"DAILY" envDefault:"0 0 * * *"`
	Morning     string        `env:"MORNING" envDefault:"0 8 * * *"`
	// DisableMorning turns the morning greeting off.
	DisableMorning bool `env:"DISABLE_MORNING"`
}

// HTTPConfig configures the HTTP API. An empty Addr disables it.
type HTTPConfig struct {
	Addr  string `env:"ADDR" envDefault:":8080"`
	Token string `env:"TOKEN"`
}

// MatrixConfig configures the Matrix transport. It is enabled when
// Homeserver is set.
type MatrixConfig struct {
	Homeserver  string   `env:"HOMESERVER"`
	UserID      string   `env:"USER_ID"`
	AccessToken string   `env:"ACCESS_TOKEN"`
	DisplayName string   `env:"DISPLAY_NAME" envDefault:"Chupik"`
	Rooms       []string `env:"ROOMS" envSeparator:","`
	Typing      bool     `env:"TYPING" envDefault:"true"`
}

// overlay is the YAML file layout.
type overlay struct {
	Persona   string         `yaml:"persona"`
	Templates *nlp.Templates `yaml:"templates"`
}

// Default returns the configuration with no environment at all.
func Default() *Config {
	cfg, err := parse(map[string]string{})
	if err != nil {
		// The defaults are constants; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads the .env file when present, then the environment, then the
// YAML overlay, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	} else if err != nil {
		slog.Debug("config: no .env file, using the process environment")
	}
	return LoadEnv(nil)
}

// LoadEnv is Load without the .env step. A nil environ reads the process
// environment.
func LoadEnv(environ map[string]string) (*Config, error) {
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	cfg, err := parse(environ)
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	for i, room := range cfg.Matrix.Rooms {
		cfg.Matrix.Rooms[i] = strings.TrimSpace(room)
	}
	return cfg, nil
}

// applyFile overlays the YAML file at path. A persona given in the
// environment wins over the file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Persona == "" {
		c.Persona = strings.TrimSpace(o.Persona)
	}
	c.Templates = o.Templates
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("STORAGE_DIR is required for the file backend"))
		}
	case StorageSQLite:
		if c.Storage.DBPath == "" {
			errs = append(errs, errors.New("STORAGE_DB_PATH is required for the sqlite backend"))
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("STORAGE_REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}

	if t := c.Engine.LocalThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("ENGINE_LOCAL_THRESHOLD must be in (0, 1], got %v", t))
	}
	if p := c.Engine.ReactionChance; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("ENGINE_REACTION_CHANCE must be in [0, 1], got %v", p))
	}

	if d := settings.Defaults().SilenceTimeout; c.Engine.HistoryExpiration > 0 && c.Engine.HistoryExpiration <= d {
		errs = append(errs, fmt.Errorf("ENGINE_HISTORY_EXPIRATION must exceed the %v silence timeout, got %v", d, c.Engine.HistoryExpiration))
	}

	if _, err := scheduler.ParseSchedule(c.Schedule.Daily); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_DAILY: %w", err))
	}
	if _, err := scheduler.ParseSchedule(c.Schedule.Morning); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_MORNING: %w", err))
	}

	if m := c.Matrix; m.Homeserver != "" && (m.UserID == "" || m.AccessToken == "") {
		errs = append(errs, errors.New("MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required with MATRIX_HOMESERVER"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the configured time zone. Validate has checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
