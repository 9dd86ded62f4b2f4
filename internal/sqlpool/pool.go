// Package sqlpool lends physical database connections out of a bounded pool.
//
// database/sql already pools connections, but it waits forever for one
// when the pool is full. Pool puts a slot channel in front of it, so a
// caller either gets a connection within ConnectionTimeout or a
// PoolExhausted error it can back off on.
//
// Every borrowed *Conn must be handed back with Release, on every exit path:
//
//	conn, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(conn)
package sqlpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakif/userauth/internal/apperror"
	"github.com/sakif/userauth/internal/config"
)

// Pool manages a bounded set of connections to one database.
type Pool struct {
	db     *sql.DB
	engine string
	cfg    config.PoolSettings
	logger *slog.Logger

	// slots holds one token per lent connection.
	slots chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Conn is a connection lent by the pool. It is owned exclusively by the
// borrower until Release.
type Conn struct {
	*sql.Conn
	released atomic.Bool
}

// New validates cfg, opens the database and verifies it answers.
//
// Errors: apperror.ErrConfiguration for bad settings,
// apperror.ErrConnection when the database cannot be reached.
func New(ctx context.Context, cfg config.Database, logger *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, driverName, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if engine == EngineSQLite {
		// The driver creates the file but not its directory.
		path, _, _ := strings.Cut(dsn, "?")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperror.Configuration("url", "creating sqlite directory", err)
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, apperror.Configuration("url", "opening database driver", err)
	}

	db.SetMaxOpenConns(cfg.Pool.MaxPoolSize)
	db.SetMaxIdleConns(cfg.Pool.MinIdle)
	db.SetConnMaxIdleTime(cfg.Pool.IdleTimeout)
	db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Pool.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apperror.Connection("pinging database", err)
	}

	logger.Info("connection pool ready",
		slog.String("engine", engine),
		slog.String("database", cfg.Database),
		slog.Int("maxPoolSize", cfg.Pool.MaxPoolSize),
		slog.Duration("connectionTimeout", cfg.Pool.ConnectionTimeout),
	)

	return &Pool{
		db:     db,
		engine: engine,
		cfg:    cfg.Pool,
		logger: logger,
		slots:  make(chan struct{}, cfg.Pool.MaxPoolSize),
		done:   make(chan struct{}),
	}, nil
}

// Engine reports which database engine the pool talks to
// (EngineSQLite, EngineMySQL or EnginePostgres).
func (p *Pool) Engine() string {
	return p.engine
}

// Acquire blocks until a connection is free, ConnectionTimeout elapses or
// ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, apperror.Closed()
	}

	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-p.done:
		return nil, apperror.Closed()
	case <-timer.C:
		return nil, apperror.PoolExhausted(
			fmt.Sprintf("no connection available within %s", p.cfg.ConnectionTimeout), nil)
	case <-ctx.Done():
		return nil, apperror.PoolExhausted("waiting for a connection", ctx.Err())
	}

	// Close may have won the race against the slot send.
	if p.isClosed() {
		<-p.slots
		return nil, apperror.Closed()
	}

	connCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := p.db.Conn(connCtx)
	if err != nil {
		<-p.slots
		if p.isClosed() {
			return nil, apperror.Closed()
		}
		return nil, apperror.Connection("obtaining connection", err)
	}

	return &Conn{Conn: conn}, nil
}

// Release hands a connection back. Releasing nil or releasing twice is a
// no-op; close failures are logged, never returned.
func (p *Pool) Release(c *Conn) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}
	if err := c.Conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.logger.Warn("releasing connection", slog.String("error", err.Error()))
	}
	<-p.slots
}

// InUse reports how many connections are currently lent out.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Close stops lending and closes the underlying database. It is safe to
// call more than once; later calls return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeErr = p.db.Close()
		p.logger.Info("connection pool closed", slog.String("engine", p.engine))
	})
	return p.closeErr
}

func (p *Pool) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
