package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sakif/userauth/internal/apperror"
)

// Password hashing schemes accepted in PASSWORD_SCHEME.
const (
	SchemeBcrypt   = "bcrypt"
	SchemeArgon2id = "argon2id"
)

// Server holds the process-level settings read from the environment.
type Server struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	URLPrefix string `env:"URL_PREFIX" envDefault:"/api"`

	// DatabaseSettings is the path of the JSON settings file (see LoadDatabase).
	DatabaseSettings string `env:"DB_SETTINGS" envDefault:"config/sql/databases.json"`
	UserTable        string `env:"USER_TABLE" envDefault:"users"`

	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	PasswordScheme string        `env:"PASSWORD_SCHEME" envDefault:"bcrypt"`

	// Redis is optional; the authorization cache is off when RedisAddr is empty.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"1m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadServer parses the environment into a Server.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, apperror.Configuration("", "parsing environment", err)
	}

	cfg.PasswordScheme = strings.ToLower(strings.TrimSpace(cfg.PasswordScheme))
	switch cfg.PasswordScheme {
	case SchemeBcrypt, SchemeArgon2id:
	default:
		return Server{}, apperror.Configuration("PASSWORD_SCHEME",
			fmt.Sprintf("unknown password scheme %q", cfg.PasswordScheme), nil)
	}

	if cfg.TokenTTL <= 0 {
		return Server{}, apperror.Configuration("TOKEN_TTL", "TOKEN_TTL must be positive", nil)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return Server{}, err
	}

	return cfg, nil
}

// SlogLevel converts LogLevel ("debug", "info", "warn", "error") to a slog.Level.
func (s Server) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, apperror.Configuration("LOG_LEVEL",
			fmt.Sprintf("invalid log level %q", s.LogLevel), err)
	}
	return level, nil
}
