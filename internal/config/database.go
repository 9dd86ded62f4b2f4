// Package config loads the two configuration surfaces of the service:
// the database settings file (plus its pool-tuning companion) and the
// process environment.
//
// DATABASE SETTINGS:
// The settings file is JSON and names the connection and the pool file:
//
//	{
//	  "url":       "mysql://db.internal:3306",
//	  "user":      "auth",
//	  "password":  "secret",
//	  "database":  "auth",
//	  "pool_file": "pool.properties"
//	}
//
// The pool file keeps HikariCP's key names in key=value form, so existing
// deployments can reuse their pool tuning unchanged:
//
//	maximumPoolSize=10
//	connectionTimeout=30000
//
// Durations in the pool file are milliseconds.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/userauth/internal/apperror"
)

// Keys of the JSON settings file. All of them must be present.
const (
	keyURL      = "url"
	keyUser     = "user"
	keyPassword = "password"
	keyDatabase = "database"
	keyPoolFile = "pool_file"
)

// Database is the immutable connection configuration handed to the pool.
type Database struct {
	URL      string
	User     string
	Password string
	Database string
	Pool     PoolSettings
}

// PoolSettings sizes the connection pool.
type PoolSettings struct {
	// MaxPoolSize bounds the number of connections lent at once.
	MaxPoolSize int
	// MinIdle is how many idle connections are kept around.
	MinIdle int
	// ConnectionTimeout bounds how long Acquire waits for a free slot.
	ConnectionTimeout time.Duration
	// IdleTimeout closes connections that sat idle for this long.
	IdleTimeout time.Duration
	// MaxLifetime recycles connections older than this.
	MaxLifetime time.Duration
}

// DefaultPoolSettings mirrors HikariCP's defaults.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxPoolSize:       10,
		MinIdle:           10,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       30 * time.Minute,
	}
}

// Validate checks the fields the pool cannot work without.
//
// The password may be empty (local databases often have none) but url,
// user and database may not.
func (d Database) Validate() error {
	if strings.TrimSpace(d.URL) == "" {
		return apperror.Configuration(keyURL, "database url is required", nil)
	}
	if strings.TrimSpace(d.User) == "" {
		return apperror.Configuration(keyUser, "database user is required", nil)
	}
	if strings.TrimSpace(d.Database) == "" {
		return apperror.Configuration(keyDatabase, "database name is required", nil)
	}
	if d.Pool.MaxPoolSize <= 0 {
		return apperror.Configuration("maximumPoolSize", "maximumPoolSize must be positive", nil)
	}
	if d.Pool.ConnectionTimeout <= 0 {
		return apperror.Configuration("connectionTimeout", "connectionTimeout must be positive", nil)
	}
	return nil
}

// LoadDatabase reads the JSON settings file at path and the pool file it
// points to.
//
// Every failure is an apperror.ErrConfiguration: a missing or malformed
// settings file, a missing key, or a missing pool file.
func LoadDatabase(path string) (Database, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return Database{}, apperror.Configuration("", fmt.Sprintf("reading settings file %s", path), err)
	}

	for _, key := range []string{keyURL, keyUser, keyPassword, keyDatabase, keyPoolFile} {
		if !v.IsSet(key) {
			return Database{}, apperror.Configuration(key, fmt.Sprintf("settings file %s is missing %q", path, key), nil)
		}
	}

	poolFile := v.GetString(keyPoolFile)
	if !filepath.IsAbs(poolFile) {
		poolFile = filepath.Join(filepath.Dir(path), poolFile)
	}
	pool, err := LoadPool(poolFile)
	if err != nil {
		return Database{}, err
	}

	cfg := Database{
		URL:      v.GetString(keyURL),
		User:     v.GetString(keyUser),
		Password: v.GetString(keyPassword),
		Database: v.GetString(keyDatabase),
		Pool:     pool,
	}
	if err := cfg.Validate(); err != nil {
		return Database{}, err
	}
	return cfg, nil
}

// LoadPool reads a key=value pool file. Unknown keys are ignored so a
// full HikariCP properties file can be pointed at directly.
func LoadPool(path string) (PoolSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	// key=value lines with # comments: the dotenv codec reads them as-is.
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return PoolSettings{}, apperror.Configuration(keyPoolFile, fmt.Sprintf("reading pool file %s", path), err)
	}

	pool := DefaultPoolSettings()
	minIdleSet := false

	if v.IsSet("maximumPoolSize") {
		n, err := parseInt(v, "maximumPoolSize")
		if err != nil {
			return PoolSettings{}, err
		}
		pool.MaxPoolSize = int(n)
	}
	if v.IsSet("minimumIdle") {
		n, err := parseInt(v, "minimumIdle")
		if err != nil {
			return PoolSettings{}, err
		}
		pool.MinIdle = int(n)
		minIdleSet = true
	}
	// HikariCP: minimumIdle defaults to maximumPoolSize.
	if !minIdleSet || pool.MinIdle > pool.MaxPoolSize {
		pool.MinIdle = pool.MaxPoolSize
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"connectionTimeout", &pool.ConnectionTimeout},
		{"idleTimeout", &pool.IdleTimeout},
		{"maxLifetime", &pool.MaxLifetime},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		ms, err := parseInt(v, d.key)
		if err != nil {
			return PoolSettings{}, err
		}
		*d.target = time.Duration(ms) * time.Millisecond
	}

	return pool, nil
}

func parseInt(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperror.Configuration(key, fmt.Sprintf("pool setting %s=%q is not an integer", key, raw), err)
	}
	if n < 0 {
		return 0, apperror.Configuration(key, fmt.Sprintf("pool setting %s must not be negative", key), nil)
	}
	return n, nil
}
