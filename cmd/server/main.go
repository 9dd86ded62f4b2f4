// Package main is the entry point for the user authentication service.
//
// The main package stays minimal. Its job is to:
// 1. Read configuration (.env, environment, database settings file)
// 2. Create dependencies (logger, pool, bridge, cache, user service)
// 3. Start the HTTP server
//
// All actual logic lives in internal/.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/userauth/internal/auth"
	"github.com/sakif/userauth/internal/cache"
	"github.com/sakif/userauth/internal/config"
	"github.com/sakif/userauth/internal/server"
	"github.com/sakif/userauth/internal/service"
	"github.com/sakif/userauth/internal/sqlbridge"
	"github.com/sakif/userauth/internal/sqlpool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. READ CONFIGURATION ===
	// A local .env is optional; real deployments set the environment directly.
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING ===
	level, _ := cfg.SlogLevel() // validated by LoadServer
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dbCfg, err := config.LoadDatabase(cfg.DatabaseSettings)
	if err != nil {
		return err
	}

	// === 3. DATABASE ===
	// Startup gets a bounded window to reach the database and create the
	// user table; after that every request carries its own context.
	ctx, cancel := context.WithTimeout(context.Background(), dbCfg.Pool.ConnectionTimeout+10*time.Second)
	defer cancel()

	pool, err := sqlpool.New(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	bridge := sqlbridge.New(pool, logger)
	closers := []io.Closer{bridge}

	// === 4. USER SERVICE ===
	passwords, err := auth.NewPasswordService(cfg.PasswordScheme)
	if err != nil {
		bridge.Close()
		return err
	}
	opts := []service.Option{
		service.WithTokenTTL(cfg.TokenTTL),
		service.WithPasswords(passwords),
	}

	// The authorization cache is optional. An unreachable Redis at startup
	// is logged and the service runs uncached.
	if cfg.RedisAddr != "" {
		tokens := cache.New(cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.CacheTTL, logger)
		if err := tokens.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, authorization cache disabled",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
			_ = tokens.Close()
		} else {
			opts = append(opts, service.WithCache(tokens))
			closers = append(closers, tokens)
		}
	}

	users, err := service.NewUserService(ctx, bridge, cfg.UserTable, logger, opts...)
	if err != nil {
		bridge.Close()
		return err
	}

	// === 5. CREATE AND START THE SERVER ===
	// Start() blocks until SIGINT/SIGTERM, then drains and closes the closers.
	srv := server.New(server.Config{
		Port:            cfg.Port,
		URLPrefix:       cfg.URLPrefix,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, users, logger, closers...)

	return srv.Start()
}
