// Package cache keeps recently authorized tokens in Redis so that
// protected requests can skip the user-table lookup.
//
// The cache fails safe: any Redis error is logged and treated as a miss,
// so an unavailable Redis slows authorization down but never breaks it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/userauth/internal/model"
)

const keyPrefix = "userauth:token:"

// TokenCache maps bearer tokens to the users they authorize.
type TokenCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewClient builds the Redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New returns a cache whose entries live at most ttl, and never past the
// token's own expiry.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *TokenCache {
	return &TokenCache{
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// key hashes the token so raw bearer credentials never sit in Redis.
func key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Ping checks that Redis answers.
func (c *TokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached user for token. Errors and corrupt entries read
// as a miss.
func (c *TokenCache) Get(ctx context.Context, token string) (*model.User, bool) {
	raw, err := c.client.Get(ctx, key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("token cache get failed", slog.String("error", err.Error()))
		return nil, false
	}

	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.logger.Warn("token cache entry corrupt", slog.String("error", err.Error()))
		c.Delete(ctx, token)
		return nil, false
	}
	return &u, true
}

// Set caches u under its token. Nothing is stored for a token that has
// already expired.
func (c *TokenCache) Set(ctx context.Context, u *model.User) {
	ttl := c.ttl
	if left := u.ExpiresAt().Sub(c.now()); left < ttl {
		ttl = left
	}
	if ttl <= 0 || u.Token == "" {
		return
	}

	raw, err := json.Marshal(u)
	if err != nil {
		c.logger.Warn("token cache encode failed", slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, key(u.Token), raw, ttl).Err(); err != nil {
		c.logger.Warn("token cache set failed", slog.String("error", err.Error()))
	}
}

// Delete evicts token.
func (c *TokenCache) Delete(ctx context.Context, token string) {
	if err := c.client.Del(ctx, key(token)).Err(); err != nil {
		c.logger.Warn("token cache delete failed", slog.String("error", err.Error()))
	}
}

// Close closes the Redis client.
func (c *TokenCache) Close() error {
	return c.client.Close()
}
