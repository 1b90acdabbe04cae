package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	AuthMode          string        `mapstructure:"AUTH_MODE"`
	Store             string        `mapstructure:"STORE"`
	ProfileStore      string        `mapstructure:"PROFILE_STORE"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	MongoURL          string        `mapstructure:"MONGO_URL"`
	MongoDatabase     string        `mapstructure:"MONGO_DATABASE"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	TokenTTL          time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string        `mapstructure:"GEMINI_MODEL"`
	CompanionModel    string        `mapstructure:"COMPANION_MODEL"`
	SessionDBPath     string        `mapstructure:"SESSION_DB_PATH"`
	ChangeChannel     string        `mapstructure:"CHANGE_CHANNEL"`
	ReminderSchedule  string        `mapstructure:"REMINDER_SCHEDULE"`
	DigestSchedule    string        `mapstructure:"DIGEST_SCHEDULE"`
	HistoryWindowDays int           `mapstructure:"HISTORY_WINDOW_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "STORE", "PROFILE_STORE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"MONGO_URL", "MONGO_DATABASE",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "TOKEN_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"GEMINI_API_KEY", "GEMINI_MODEL", "COMPANION_MODEL",
	"SESSION_DB_PATH", "CHANGE_CHANNEL",
	"REMINDER_SCHEDULE", "DIGEST_SCHEDULE", "HISTORY_WINDOW_DAYS",
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred, see ResolvedAuthMode
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("PROFILE_STORE", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("MONGO_DATABASE", "medicheck")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("GEMINI_MODEL", "gemini-3-pro-preview")
	v.SetDefault("COMPANION_MODEL", "gemini-2.5-flash")
	v.SetDefault("SESSION_DB_PATH", "data/sessions")
	v.SetDefault("CHANGE_CHANNEL", "medicheck_changes")
	v.SetDefault("REMINDER_SCHEDULE", "0 8 * * *")
	v.SetDefault("DIGEST_SCHEDULE", "0 18 * * *")
	v.SetDefault("HISTORY_WINDOW_DAYS", 30)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.ProfileStore == "" {
		cfg.ProfileStore = cfg.Store
	}

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
	}

	if cfg.IsDev() {
		log.Warn().Msg("development mode: callers are taken from X-User-ID / X-User-Role headers; do not expose this server")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is set it
// wins. Otherwise:
//   - ENV=development → "development" (identity from request headers)
//   - AUTH_ISSUER set → "external" (JWKS-verified tokens)
//   - Otherwise       → "standalone" (tokens issued by /auth/login)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "standalone"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development", "standalone", "external":
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is \"external\"")
	}
	if mode == "standalone" && !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in standalone mode outside development")
	}
	if mode == "development" && c.IsProduction() {
		return fmt.Errorf("development auth cannot run with ENV=production")
	}

	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	switch c.ProfileStore {
	case StorePostgres, StoreMemory, StoreMongo:
	default:
		return fmt.Errorf("PROFILE_STORE must be %q, %q or %q, got %q", StorePostgres, StoreMemory, StoreMongo, c.ProfileStore)
	}
	if c.ProfileStore == StoreMongo && c.MongoURL == "" {
		return fmt.Errorf("MONGO_URL is required when PROFILE_STORE is %q", StoreMongo)
	}
	if c.ProfileStore == StorePostgres && c.Store != StorePostgres {
		return fmt.Errorf("PROFILE_STORE %q requires STORE %q", StorePostgres, StorePostgres)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.HistoryWindowDays <= 0 {
		return fmt.Errorf("HISTORY_WINDOW_DAYS must be positive")
	}
	return nil
}
