// Package config loads server configuration from defaults, an optional
// config file, an optional dotenv file, the process environment and command
// line overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"whosaid/internal/domain"
)

// EnvPrefix prefixes every environment variable the server reads
const EnvPrefix = "WHOSAID_"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Game      GameConfig      `envPrefix:"GAME_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"` // "development" or "production"
	// PublicURL is the base of share links; empty derives it from the request
	PublicURL      string   `env:"PUBLIC_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MessageRate    float64  `env:"MESSAGE_RATE" envDefault:"10"`
	MessageBurst   int      `env:"MESSAGE_BURST" envDefault:"20"`
}

// GameConfig holds game-related configuration
type GameConfig struct {
	MinPlayers      int           `env:"MIN_PLAYERS" envDefault:"3"`
	MaxPlayers      int           `env:"MAX_PLAYERS" envDefault:"8"`
	DefaultRounds   int           `env:"DEFAULT_ROUNDS" envDefault:"10"`
	MaxAnswerLength int           `env:"MAX_ANSWER_LENGTH" envDefault:"280"`
	MaxNameLength   int           `env:"MAX_NAME_LENGTH" envDefault:"24"`
	PromptsFile     string        `env:"PROMPTS_FILE"`
	RoomTTL         time.Duration `env:"ROOM_TTL" envDefault:"6h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Driver string `env:"DRIVER" envDefault:"memory"` // memory, sqlite or postgres
	Path   string `env:"PATH" envDefault:"whosaid.db"`
	DSN    string `env:"DSN"`
}

// AuthConfig selects how players are identified
type AuthConfig struct {
	Mode         string        `env:"MODE" envDefault:"anonymous"` // anonymous or token
	CookieName   string        `env:"COOKIE_NAME" envDefault:"whosaid_uid"`
	SecureCookie bool          `env:"SECURE_COOKIE"`
	TokenSecret  string        `env:"TOKEN_SECRET"`
	TokenIssuer  string        `env:"TOKEN_ISSUER" envDefault:"whosaid"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"` // "json" or "text"
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `env:"ENDPOINT"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"whosaid"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// Options tells Load where to look besides the process environment
type Options struct {
	// ConfigFile is a YAML, TOML or JSON file whose keys mirror the
	// environment names, e.g. server.port or game.min_players.
	ConfigFile string
	// EnvFile is a dotenv file. Empty tries .env and ignores it if missing.
	EnvFile string
	// Overrides are environment-style keys without the prefix that win over
	// every other source, e.g. {"SERVER_PORT": "9000"}.
	Overrides map[string]string
}

// Load builds the configuration and validates it
func Load(opts Options) (*Config, error) {
	vars, err := sources(opts)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: vars,
	}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sources merges every configuration source into one environment map
func sources(opts Options) (map[string]string, error) {
	vars := make(map[string]string)

	if opts.ConfigFile != "" {
		fileVars, err := readConfigFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		merge(vars, fileVars)
	}

	dotenv, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	merge(vars, dotenv)

	merge(vars, env.ToMap(os.Environ()))

	for key, value := range opts.Overrides {
		vars[EnvPrefix+strings.ToUpper(key)] = value
	}
	return vars, nil
}

func readConfigFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	vars := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		name := EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		vars[name] = fileValue(v.Get(key))
	}
	return vars, nil
}

func fileValue(value any) string {
	if list, ok := value.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(value)
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		vars, err := godotenv.Read()
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read .env: %w", err)
		}
		return vars, nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return vars, nil
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Server.Port)
	}
	if c.Server.MessageRate < 0 || c.Server.MessageBurst < 0 {
		return errors.New("message rate and burst must not be negative")
	}

	g := c.Game
	if g.MinPlayers < 1 || g.MaxPlayers < g.MinPlayers {
		return fmt.Errorf("invalid player bounds: min %d, max %d", g.MinPlayers, g.MaxPlayers)
	}
	if g.DefaultRounds < 1 || g.MaxAnswerLength < 1 || g.MaxNameLength < 1 {
		return errors.New("rounds, answer length and name length must be positive")
	}
	if g.RoomTTL <= 0 || g.CleanupInterval <= 0 {
		return errors.New("room ttl and cleanup interval must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("sqlite store requires a path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Auth.Mode {
	case "anonymous":
		if c.Auth.CookieName == "" {
			return errors.New("anonymous auth requires a cookie name")
		}
	case "token":
		if len(c.Auth.TokenSecret) < 32 {
			return errors.New("token auth requires a secret of at least 32 bytes")
		}
		if c.Auth.TokenTTL <= 0 {
			return errors.New("token ttl must be positive")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Settings converts the game configuration into domain settings
func (g GameConfig) Settings() domain.GameSettings {
	return domain.GameSettings{
		MinPlayers:      g.MinPlayers,
		MaxPlayers:      g.MaxPlayers,
		DefaultRounds:   g.DefaultRounds,
		MaxAnswerLength: g.MaxAnswerLength,
		MaxNameLength:   g.MaxNameLength,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Addr returns the server address in host:port format
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
