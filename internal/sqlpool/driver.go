package sqlpool

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/sakif/userauth/internal/apperror"
	"github.com/sakif/userauth/internal/config"
)

// Engines understood by the pool. The value doubles as the URL scheme in
// the settings file and as the dialect name the bridge switches on.
const (
	EngineSQLite   = "sqlite"
	EngineMySQL    = "mysql"
	EnginePostgres = "postgres"
)

// sqlitePragmas apply to every connection the driver opens. busy_timeout
// matters most: without it concurrent writers fail with SQLITE_BUSY
// instead of waiting for the lock.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// dataSource turns the settings into a database/sql driver name and DSN.
//
// URL forms:
//
//	sqlite://<directory>        database is the file name inside directory
//	mysql://<host:port>[?params]
//	postgres://<host:port>[?params]
func dataSource(cfg config.Database) (engine, driverName, dsn string, err error) {
	scheme, rest, ok := strings.Cut(cfg.URL, "://")
	if !ok {
		return "", "", "", apperror.Configuration("url",
			fmt.Sprintf("database url %q has no scheme", cfg.URL), nil)
	}

	addr, rawQuery, _ := strings.Cut(rest, "?")

	switch strings.ToLower(scheme) {
	case EngineSQLite:
		dir := addr
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, cfg.Database)
		q := sqlitePragmas
		if rawQuery != "" {
			q = rawQuery + "&" + q
		}
		return EngineSQLite, "sqlite", path + "?" + q, nil

	case EngineMySQL, "mariadb":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = cfg.Database
		mc.Timeout = cfg.Pool.ConnectionTimeout
		if rawQuery != "" {
			values, err := url.ParseQuery(rawQuery)
			if err != nil {
				return "", "", "", apperror.Configuration("url", "parsing mysql url parameters", err)
			}
			mc.Params = make(map[string]string, len(values))
			for k := range values {
				mc.Params[k] = values.Get(k)
			}
		}
		return EngineMySQL, "mysql", mc.FormatDSN(), nil

	case EnginePostgres, "postgresql":
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			return "", "", "", apperror.Configuration("url", "parsing postgres url parameters", err)
		}
		if values.Get("connect_timeout") == "" && cfg.Pool.ConnectionTimeout > 0 {
			secs := int(cfg.Pool.ConnectionTimeout.Seconds())
			if secs < 1 {
				secs = 1
			}
			values.Set("connect_timeout", fmt.Sprint(secs))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     addr,
			Path:     "/" + cfg.Database,
			RawQuery: values.Encode(),
		}
		return EnginePostgres, "pgx", u.String(), nil
	}

	return "", "", "", apperror.Configuration("url",
		fmt.Sprintf("unsupported database engine %q", scheme), nil)
}
