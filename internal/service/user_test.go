package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/userauth/internal/apperror"
	"github.com/sakif/userauth/internal/auth"
	"github.com/sakif/userauth/internal/config"
	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/sqlbridge"
	"github.com/sakif/userauth/internal/sqlpool"
)

// =========================================================================
// HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source shared by the service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newSQLiteBridge opens a bridge on a throwaway SQLite file.
func newSQLiteBridge(t *testing.T) *sqlbridge.Bridge {
	t.Helper()
	pool := config.DefaultPoolSettings()
	pool.MaxPoolSize = 4
	pool.MinIdle = 4
	pool.ConnectionTimeout = 5 * time.Second

	p, err := sqlpool.New(context.Background(), config.Database{
		URL:      "sqlite://" + t.TempDir(),
		User:     "test",
		Database: "users_test.db",
		Pool:     pool,
	}, discardLogger())
	require.NoError(t, err)

	b := sqlbridge.New(p, discardLogger())
	t.Cleanup(func() { b.Close() })
	return b
}

const testTTL = time.Hour

// newTestService returns a UserService over a fresh SQLite database, a
// cheap bcrypt cost and a controllable clock.
func newTestService(t *testing.T, opts ...Option) (*UserService, *sqlbridge.Bridge, *fakeClock) {
	t.Helper()
	b := newSQLiteBridge(t)
	clock := newFakeClock()

	base := []Option{
		WithPasswords(auth.NewPasswordServiceForTest(4)),
		WithClock(clock.Now),
		WithTokenTTL(testTTL),
	}
	svc, err := NewUserService(context.Background(), b, "users", discardLogger(), append(base, opts...)...)
	require.NoError(t, err)
	return svc, b, clock
}

func register(t *testing.T, svc *UserService, username, password string) *model.User {
	t.Helper()
	res := svc.Register(context.Background(), username, password)
	require.Equal(t, OK, res.Outcome, "register %s", username)
	require.NotNil(t, res.User)
	return res.User
}

// forceExpire sets the user's token_expires_at to 0 behind the service's back.
func forceExpire(t *testing.T, b *sqlbridge.Bridge, username string) {
	t.Helper()
	n, err := b.Update(context.Background(), `UPDATE users SET token_expires_at = 0 WHERE username = ?`, username)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func storedToken(t *testing.T, b *sqlbridge.Bridge, username string) string {
	t.Helper()
	rec, found, err := b.QueryOne(context.Background(), `SELECT token FROM users WHERE username = ?`, username)
	require.NoError(t, err)
	require.True(t, found)
	v, _ := rec.Get("token")
	return v.String()
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewUserService_CreatesTable(t *testing.T) {
	_, b, _ := newTestService(t)
	ctx := context.Background()

	exists, err := b.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.True(t, exists)

	// A second service on the same table finds it and does not recreate it.
	_, err = NewUserService(ctx, b, "users", discardLogger(),
		WithPasswords(auth.NewPasswordServiceForTest(4)))
	require.NoError(t, err)

	// Both indexes were created with the table.
	indexes, err := b.QueryMany(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name`, "users")
	require.NoError(t, err)
	var names []string
	for _, r := range indexes {
		v, _ := r.Get("name")
		names = append(names, v.String())
	}
	assert.Contains(t, names, "users_username_uindex")
	assert.Contains(t, names, "users_token_index")
}

func TestNewUserService_RejectsBadTableName(t *testing.T) {
	b := newSQLiteBridge(t)

	for _, name := range []string{"", "users; DROP TABLE x", "1users", "user-table", "users\""} {
		_, err := NewUserService(context.Background(), b, name, discardLogger())
		assert.ErrorIs(t, err, apperror.ErrValidation, "table %q", name)
	}
}

// =========================================================================
// THE ALICE SCENARIO
// =========================================================================

func TestAliceScenario(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()

	reg := svc.Register(ctx, "alice", "secret")
	require.Equal(t, OK, reg.Outcome)
	assert.Equal(t, "alice", reg.User.Username)
	assert.NotEmpty(t, reg.User.Token)

	dup := svc.Register(ctx, "alice", "other")
	assert.Equal(t, DuplicateUsername, dup.Outcome)
	assert.Nil(t, dup.User)

	wrong := svc.Login(ctx, "alice", "wrong")
	assert.Equal(t, BadPassword, wrong.Outcome)

	login := svc.Login(ctx, "alice", "secret")
	require.Equal(t, OK, login.Outcome)
	assert.Equal(t, reg.User.Token, login.User.Token)
	assert.Equal(t, reg.User.ID, login.User.ID)

	forceExpire(t, b, "alice")

	again := svc.Login(ctx, "alice", "secret")
	require.Equal(t, OK, again.Outcome)
	assert.NotEqual(t, reg.User.Token, again.User.Token)
	assert.Equal(t, reg.User.ID, again.User.ID)
}

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister_ThenLoginReturnsSameUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	creds := []struct{ username, password string }{
		{"bob", "hunter2"},
		{"carol", "p@$$w0rd!"},
		{"dave", "пароль"},
		{"x", " "},
	}
	for _, c := range creds {
		reg := register(t, svc, c.username, c.password)
		login := svc.Login(ctx, c.username, c.password)
		require.Equal(t, OK, login.Outcome, c.username)
		assert.Equal(t, reg.ID, login.User.ID, c.username)
	}
}

func TestRegister_AssignsDistinctIDsAndExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)

	a := register(t, svc, "a", "pw")
	b := register(t, svc, "b", "pw")

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Token, b.Token)
	assert.Len(t, a.Token, auth.TokenLength)
	assert.Equal(t, clock.Now().Add(testTTL).UnixMilli(), a.TokenExpiresAt)
}

func TestRegister_DuplicateDoesNotMutate(t *testing.T) {
	svc, b, _ := newTestService(t)
	orig := register(t, svc, "erin", "first")

	res := svc.Register(context.Background(), "erin", "second")
	assert.Equal(t, DuplicateUsername, res.Outcome)

	assert.Equal(t, orig.Token, storedToken(t, b, "erin"))
	// The original password still works, the new one does not.
	assert.Equal(t, OK, svc.Login(context.Background(), "erin", "first").Outcome)
	assert.Equal(t, BadPassword, svc.Login(context.Background(), "erin", "second").Outcome)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res := svc.Register(ctx, "bob", strings.Repeat("x", auth.MaxPasswordBytes+1))
	assert.Equal(t, InvalidRequest, res.Outcome)
	assert.Nil(t, res.User)
	assert.Equal(t, UserNotFound, svc.Login(ctx, "bob", strings.Repeat("x", auth.MaxPasswordBytes)).Outcome,
		"nothing was stored")

	register(t, svc, "bob", strings.Repeat("x", auth.MaxPasswordBytes))
}

func TestRegister_PayloadHasNoPasswordHash(t *testing.T) {
	svc, _, _ := newTestService(t)
	u := register(t, svc, "frank", "pw")

	out, err := json.Marshal(u)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.NotContains(t, fields, "password_hash")
	assert.ElementsMatch(t, []string{"user_id", "username", "token", "token_expires_at"}, keys(fields))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := svc.Login(context.Background(), "nobody", "pw")
	assert.Equal(t, UserNotFound, res.Outcome)
	assert.Nil(t, res.User)
}

func TestLogin_WrongPasswordNeverRotates(t *testing.T) {
	svc, b, _ := newTestService(t)
	u := register(t, svc, "gina", "right")
	forceExpire(t, b, "gina")

	for i := 0; i < 3; i++ {
		res := svc.Login(context.Background(), "gina", "wrong")
		assert.Equal(t, BadPassword, res.Outcome)
	}
	assert.Equal(t, u.Token, storedToken(t, b, "gina"))
}

// bcrypt only looks at the first 72 bytes; a longer guess that starts
// with the real password is still wrong.
func TestLogin_PasswordPastLimitIsWrong(t *testing.T) {
	svc, b, _ := newTestService(t)
	pw := strings.Repeat("z", auth.MaxPasswordBytes)
	u := register(t, svc, "ivan", pw)
	forceExpire(t, b, "ivan")

	res := svc.Login(context.Background(), "ivan", pw+"WRONG-SUFFIX")
	assert.Equal(t, BadPassword, res.Outcome)
	assert.Nil(t, res.User)
	assert.Equal(t, u.Token, storedToken(t, b, "ivan"), "no rotation on a bad password")

	assert.Equal(t, OK, svc.Login(context.Background(), "ivan", pw).Outcome)
}

func TestLogin_RotatesExactlyAtExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	u := register(t, svc, "hank", "pw")

	clock.Advance(testTTL - time.Millisecond)
	before := svc.Login(ctx, "hank", "pw")
	require.Equal(t, OK, before.Outcome)
	assert.Equal(t, u.Token, before.User.Token, "token still valid one millisecond before expiry")

	clock.Advance(time.Millisecond)
	at := svc.Login(ctx, "hank", "pw")
	require.Equal(t, OK, at.Outcome)
	assert.NotEqual(t, u.Token, at.User.Token)
	assert.Greater(t, at.User.TokenExpiresAt, u.TokenExpiresAt)

	// The rotated token is persisted and stable until it expires in turn.
	next := svc.Login(ctx, "hank", "pw")
	assert.Equal(t, at.User.Token, next.User.Token)
}

func TestLogin_ConcurrentRotationConverges(t *testing.T) {
	svc, b, _ := newTestService(t)
	register(t, svc, "ivy", "pw")
	forceExpire(t, b, "ivy")

	const n = 8
	tokens := make([]string, n)
	outcomes := make([]Outcome, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := svc.Login(context.Background(), "ivy", "pw")
			outcomes[i] = res.Outcome
			if res.User != nil {
				tokens[i] = res.User.Token
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, OK, outcomes[i])
		assert.Equal(t, tokens[0], tokens[i], "every concurrent login must see the winning token")
	}
	assert.Equal(t, tokens[0], storedToken(t, b, "ivy"))
}

// =========================================================================
// AUTHORIZE
// =========================================================================

func TestAuthorize(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()
	u := register(t, svc, "jack", "pw")

	res := svc.Authorize(ctx, u.Token)
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, "jack", res.User.Username)

	unknown, err := auth.NewToken()
	require.NoError(t, err)
	assert.Equal(t, InvalidToken, svc.Authorize(ctx, unknown).Outcome)
	assert.Equal(t, InvalidToken, svc.Authorize(ctx, "").Outcome)
	assert.Equal(t, InvalidToken, svc.Authorize(ctx, "short").Outcome)
	assert.Equal(t, InvalidToken, svc.Authorize(ctx, strings.Repeat("a", 65)).Outcome)

	forceExpire(t, b, "jack")
	expired := svc.Authorize(ctx, u.Token)
	assert.Equal(t, TokenExpired, expired.Outcome)
	require.NotNil(t, expired.User, "expired result still identifies the user")
	assert.Equal(t, u.ID, expired.User.ID)
}

// Rows in a table that predates this service may hold tokens of another
// shape. Whatever Login hands out, Authorize must accept.
func TestAuthorize_AcceptsLegacyTokenShape(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "lena", "pw")

	_, err := b.Update(ctx, `UPDATE users SET token = ? WHERE username = ?`, "abcd1234", "lena")
	require.NoError(t, err)

	login := svc.Login(ctx, "lena", "pw")
	require.Equal(t, OK, login.Outcome)
	require.Equal(t, "abcd1234", login.User.Token)

	res := svc.Authorize(ctx, "abcd1234")
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, "lena", res.User.Username)
}

func TestAuthorize_OldTokenDiesOnRotation(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	u := register(t, svc, "kate", "pw")

	clock.Advance(testTTL)
	assert.Equal(t, TokenExpired, svc.Authorize(ctx, u.Token).Outcome)

	login := svc.Login(ctx, "kate", "pw")
	require.Equal(t, OK, login.Outcome)

	assert.Equal(t, InvalidToken, svc.Authorize(ctx, u.Token).Outcome)
	assert.Equal(t, OK, svc.Authorize(ctx, login.User.Token).Outcome)
}

// =========================================================================
// GET
// =========================================================================

func TestGet(t *testing.T) {
	svc, _, _ := newTestService(t)
	u := register(t, svc, "liam", "pw")

	res := svc.Get(context.Background(), u.ID)
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, *u, *res.User)

	assert.Equal(t, UserNotFound, svc.Get(context.Background(), u.ID+100).Outcome)
}

// =========================================================================
// FAILURES
// =========================================================================

func TestOperationsAfterClose(t *testing.T) {
	svc, b, _ := newTestService(t)
	u := register(t, svc, "mia", "pw")
	require.NoError(t, b.Close())

	ctx := context.Background()
	assert.Equal(t, InternalError, svc.Register(ctx, "noah", "pw").Outcome)
	assert.Equal(t, InternalError, svc.Login(ctx, "mia", "pw").Outcome)
	assert.Equal(t, InternalError, svc.Authorize(ctx, u.Token).Outcome)
	assert.Equal(t, InternalError, svc.Get(ctx, u.ID).Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "DuplicateUsername", DuplicateUsername.String())
	assert.Equal(t, "TokenExpired", TokenExpired.String())
	assert.Equal(t, "Outcome(99)", Outcome(99).String())
}
