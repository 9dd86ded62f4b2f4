// Package service holds the user authentication business logic.
//
// UserService owns one user table and is the only code that knows its
// schema. It reaches the database exclusively through the bridge:
//
//	handler (HTTP) → UserService (business rules) → sqlbridge.Bridge → sqlpool.Pool
//	                           ↘ auth (hashing, tokens)
//	                           ↘ TokenCache (optional)
//
// TOKEN LIFECYCLE PER USER:
//
//	valid (now < token_expires_at) → expired (now ≥ token_expires_at)
//	  → valid again after the next successful login rotates the token
//
// OUTCOMES VS ERRORS:
// Every operation returns a Result. Expected business cases (duplicate
// username, wrong password, unknown token, ...) are Outcomes. Anything that
// goes wrong underneath (pool, SQL, hashing) becomes InternalError; the
// cause is logged here and never returned to the caller.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/userauth/internal/auth"
	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/sqlbridge"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 30 * 24 * time.Hour

// maxRotateAttempts bounds the optimistic rotation loop in Login.
const maxRotateAttempts = 3

// Bridge is the subset of *sqlbridge.Bridge the service needs.
type Bridge interface {
	Engine() string
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, createSQL string, indexSQL ...string) error
	QueryOne(ctx context.Context, query string, params ...any) (sqlbridge.Record, bool, error)
	Insert(ctx context.Context, query string, params ...any) (sqlbridge.Value, bool, error)
	Update(ctx context.Context, query string, params ...any) (int64, error)
}

var _ Bridge = (*sqlbridge.Bridge)(nil)

// TokenCache short-circuits Authorize. Implementations must treat their
// own failures as misses: the database stays the source of truth.
type TokenCache interface {
	Get(ctx context.Context, token string) (*model.User, bool)
	Set(ctx context.Context, user *model.User)
	Delete(ctx context.Context, token string)
}

// UserService implements register, login, authorize and get over one
// user table. It is safe for concurrent use.
type UserService struct {
	db     Bridge
	table  string
	sql    schema
	logger *slog.Logger

	passwords *auth.PasswordService
	newToken  func() (string, error)
	cache     TokenCache
	now       func() time.Time
	ttl       time.Duration
}

// Option configures a UserService.
type Option func(*UserService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *UserService) { s.now = now }
}

// WithTokenTTL sets how long issued tokens live. Non-positive values are
// ignored.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *UserService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPasswords sets the password hasher. The default is bcrypt at
// production cost.
func WithPasswords(p *auth.PasswordService) Option {
	return func(s *UserService) { s.passwords = p }
}

// WithCache enables the authorization cache.
func WithCache(c TokenCache) Option {
	return func(s *UserService) { s.cache = c }
}

// withTokenSource swaps the token generator (tests only).
func withTokenSource(f func() (string, error)) Option {
	return func(s *UserService) { s.newToken = f }
}

// NewUserService binds the service to table, creating the table and its
// indexes when they do not exist yet.
//
// Errors: apperror.ErrValidation for a table name that is not a plain
// identifier; any error from probing or creating the table.
func NewUserService(ctx context.Context, db Bridge, table string, logger *slog.Logger, opts ...Option) (*UserService, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	s := &UserService{
		db:       db,
		table:    table,
		sql:      newSchema(db.Engine(), table),
		logger:   logger,
		newToken: auth.NewToken,
		now:      time.Now,
		ttl:      DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.passwords == nil {
		p, err := auth.NewPasswordService("")
		if err != nil {
			return nil, err
		}
		s.passwords = p
	}

	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap creates the user table if needed. Several processes may race
// to create it; a failed creation is fine as long as the table exists
// afterwards.
func (s *UserService) bootstrap(ctx context.Context) error {
	exists, err := s.db.TableExists(ctx, s.table)
	if err != nil {
		return fmt.Errorf("service/user: checking table %s: %w", s.table, err)
	}
	if exists {
		return nil
	}

	createErr := s.db.CreateTable(ctx, s.sql.create, s.sql.indexes...)
	if createErr == nil {
		s.logger.Info("user table created", slog.String("table", s.table))
		return nil
	}

	exists, err = s.db.TableExists(ctx, s.table)
	if err != nil {
		return fmt.Errorf("service/user: re-checking table %s: %w", s.table, err)
	}
	if !exists {
		return fmt.Errorf("service/user: creating table %s: %w", s.table, createErr)
	}

	s.logger.Info("user table created concurrently by another process", slog.String("table", s.table))
	return nil
}

// Register creates an account and issues its first token.
//
// A password longer than auth.MaxPasswordBytes is refused with
// InvalidRequest before anything is stored.
func (s *UserService) Register(ctx context.Context, username, password string) Result {
	if len(password) > auth.MaxPasswordBytes {
		return result(InvalidRequest)
	}

	_, found, err := s.findBy(ctx, s.sql.selectByUsername, username)
	if err != nil {
		return s.internal("register", err, slog.String("username", username))
	}
	if found {
		return result(DuplicateUsername)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return s.internal("register", err, slog.String("username", username))
	}
	token, expires, err := s.issueToken()
	if err != nil {
		return s.internal("register", err, slog.String("username", username))
	}

	key, hasKey, err := s.db.Insert(ctx, s.sql.insert, username, hash, token, expires)
	if err != nil {
		// Lost a race with another registration of the same name: the
		// unique index rejected us.
		if _, found, lookupErr := s.findBy(ctx, s.sql.selectByUsername, username); lookupErr == nil && found {
			return result(DuplicateUsername)
		}
		return s.internal("register", err, slog.String("username", username))
	}

	var id int64
	if hasKey {
		id, hasKey = key.Int64()
	}
	if !hasKey {
		creds, found, err := s.findBy(ctx, s.sql.selectByUsername, username)
		if err != nil || !found {
			if err == nil {
				err = errors.New("inserted row not found")
			}
			return s.internal("register", err, slog.String("username", username))
		}
		id = creds.ID
	}

	s.logger.Info("user registered", slog.Int64("userID", id), slog.String("username", username))

	return success(&model.User{
		ID:             id,
		Username:       username,
		Token:          token,
		TokenExpiresAt: expires,
	})
}

// Login verifies the password and returns the user's token, rotating it
// first when it has expired. A token that is still valid is returned
// unchanged.
func (s *UserService) Login(ctx context.Context, username, password string) Result {
	creds, found, err := s.findBy(ctx, s.sql.selectByUsername, username)
	if err != nil {
		return s.internal("login", err, slog.String("username", username))
	}
	if !found {
		return result(UserNotFound)
	}

	if err := s.passwords.Verify(creds.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return result(BadPassword)
		}
		return s.internal("login", err, slog.String("username", username))
	}

	user := creds.User
	for attempt := 1; user.Expired(s.now()); attempt++ {
		if attempt > maxRotateAttempts {
			return s.internal("login", errors.New("token rotation kept conflicting"),
				slog.String("username", username))
		}
		user, err = s.rotate(ctx, user)
		if err != nil {
			return s.internal("login", err, slog.String("username", username))
		}
	}

	return success(&user)
}

// rotate replaces an expired token. The update only applies if the row
// still carries the expiry we read; otherwise a concurrent login already
// rotated it and the row is re-read so both callers end up with the
// winner's token.
func (s *UserService) rotate(ctx context.Context, stale model.User) (model.User, error) {
	token, expires, err := s.issueToken()
	if err != nil {
		return stale, err
	}

	n, err := s.db.Update(ctx, s.sql.rotate, token, expires, stale.ID, stale.TokenExpiresAt)
	if err != nil {
		return stale, err
	}

	if s.cache != nil && stale.Token != "" {
		s.cache.Delete(ctx, stale.Token)
	}

	if n == 1 {
		s.logger.Info("token rotated", slog.Int64("userID", stale.ID))
		stale.Token, stale.TokenExpiresAt = token, expires
		return stale, nil
	}

	s.logger.Debug("token rotation lost a race, re-reading", slog.Int64("userID", stale.ID))
	creds, found, err := s.findBy(ctx, s.sql.selectByID, stale.ID)
	if err != nil {
		return stale, err
	}
	if !found {
		return stale, fmt.Errorf("service/user: user %d vanished during rotation", stale.ID)
	}
	return creds.User, nil
}

// Authorize resolves a bearer token to its user.
//
// Unknown tokens yield InvalidToken. An expired token yields TokenExpired
// together with the user, so the caller can tell who it belonged to.
func (s *UserService) Authorize(ctx context.Context, token string) Result {
	// Rows from an existing table may hold tokens of any shape, so only
	// what cannot fit the column is refused without a lookup.
	if token == "" || len(token) > tokenWidth {
		return result(InvalidToken)
	}

	if s.cache != nil {
		if u, hit := s.cache.Get(ctx, token); hit && u.Token == token {
			return s.checkExpiry(u)
		}
	}

	creds, found, err := s.findBy(ctx, s.sql.selectByToken, token)
	if err != nil {
		return s.internal("authorize", err)
	}
	if !found {
		return result(InvalidToken)
	}

	user := creds.User
	res := s.checkExpiry(&user)
	if res.Outcome == OK && s.cache != nil {
		s.cache.Set(ctx, &user)
	}
	return res
}

func (s *UserService) checkExpiry(u *model.User) Result {
	if u.Expired(s.now()) {
		return Result{Outcome: TokenExpired, User: u}
	}
	return success(u)
}

// Get looks a user up by id.
func (s *UserService) Get(ctx context.Context, userID int64) Result {
	creds, found, err := s.findBy(ctx, s.sql.selectByID, userID)
	if err != nil {
		return s.internal("get", err, slog.Int64("userID", userID))
	}
	if !found {
		return result(UserNotFound)
	}
	user := creds.User
	return success(&user)
}

// TokenTTL reports the lifetime given to new tokens.
func (s *UserService) TokenTTL() time.Duration {
	return s.ttl
}

func (s *UserService) findBy(ctx context.Context, query string, param any) (*model.Credentials, bool, error) {
	rec, found, err := s.db.QueryOne(ctx, query, param)
	if err != nil || !found {
		return nil, false, err
	}
	creds, err := credentialsFrom(rec)
	if err != nil {
		return nil, false, err
	}
	return creds, true, nil
}

func (s *UserService) issueToken() (string, int64, error) {
	token, err := s.newToken()
	if err != nil {
		return "", 0, err
	}
	return token, s.now().Add(s.ttl).UnixMilli(), nil
}

// internal logs the cause and collapses it to InternalError.
func (s *UserService) internal(op string, err error, attrs ...slog.Attr) Result {
	args := make([]any, 0, len(attrs)+2)
	args = append(args, slog.String("op", op), slog.String("error", err.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.Error("user service failure", args...)
	return result(InternalError)
}
