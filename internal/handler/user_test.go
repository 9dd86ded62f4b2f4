package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/userauth/internal/handler"
	"github.com/sakif/userauth/internal/middleware"
	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/service"
)

// MockUserService records the last call and returns a canned result.
type MockUserService struct {
	CapturedUsername string
	CapturedPassword string
	CapturedID       int64
	Calls            int
	Return           service.Result
}

func (m *MockUserService) Register(_ context.Context, username, password string) service.Result {
	m.Calls++
	m.CapturedUsername, m.CapturedPassword = username, password
	return m.Return
}

func (m *MockUserService) Login(_ context.Context, username, password string) service.Result {
	m.Calls++
	m.CapturedUsername, m.CapturedPassword = username, password
	return m.Return
}

func (m *MockUserService) Get(_ context.Context, userID int64) service.Result {
	m.Calls++
	m.CapturedID = userID
	return m.Return
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// envelope decodes a response body, keeping "d" raw for inspection.
type envelope struct {
	E int             `json:"e"`
	D json.RawMessage `json:"d"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	assert.Equal(t, http.StatusOK, rr.Code, "envelopes always travel with 200")
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var env envelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env
}

func TestUserHandler_HandleRegister(t *testing.T) {
	alice := &model.User{ID: 1, Username: "alice", Token: "tok", TokenExpiresAt: 42}

	t.Run("success carries the user", func(t *testing.T) {
		mock := &MockUserService{Return: service.Result{Outcome: service.OK, User: alice}}
		h := handler.NewUserHandler(mock, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/user/register",
			bytes.NewBufferString(`{"username":"alice","password":"secret"}`))
		rr := httptest.NewRecorder()
		h.HandleRegister(rr, req)

		env := decode(t, rr)
		assert.Equal(t, 0, env.E)
		assert.JSONEq(t, `{"user_id":1,"username":"alice","token":"tok","token_expires_at":42}`, string(env.D))
		assert.Equal(t, "alice", mock.CapturedUsername)
		assert.Equal(t, "secret", mock.CapturedPassword)
	})

	t.Run("business outcome has no payload", func(t *testing.T) {
		mock := &MockUserService{Return: service.Result{Outcome: service.DuplicateUsername}}
		h := handler.NewUserHandler(mock, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/user/register",
			bytes.NewBufferString(`{"username":"alice","password":"secret"}`))
		rr := httptest.NewRecorder()
		h.HandleRegister(rr, req)

		env := decode(t, rr)
		assert.Equal(t, int(service.DuplicateUsername), env.E)
		assert.Empty(t, env.D)
	})
}

func TestUserHandler_InvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username":`},
		{"not an object", `"alice"`},
		{"missing username", `{"password":"secret"}`},
		{"missing password", `{"username":"alice"}`},
		{"empty password", `{"username":"alice","password":""}`},
		{"username too long", `{"username":"` + strings.Repeat("u", 65) + `","password":"p"}`},
		{"password over 72 bytes", `{"username":"alice","password":"` + strings.Repeat("é", 37) + `"}`},
		{"body too large", `{"username":"alice","password":"p","pad":"` + strings.Repeat("x", 5000) + `"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := &MockUserService{}
			h := handler.NewUserHandler(mock, testLogger())

			for _, serve := range []http.HandlerFunc{h.HandleRegister, h.HandleLogin} {
				req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tc.body))
				rr := httptest.NewRecorder()
				serve(rr, req)

				assert.Equal(t, int(service.InvalidRequest), decode(t, rr).E)
			}
			assert.Zero(t, mock.Calls, "invalid requests never reach the service")
		})
	}
}

func TestUserHandler_LimitsAtBoundary(t *testing.T) {
	mock := &MockUserService{Return: service.Result{Outcome: service.BadPassword}}
	h := handler.NewUserHandler(mock, testLogger())

	// 64 multi-byte characters and exactly 72 bytes are both allowed.
	body := `{"username":"` + strings.Repeat("ü", 64) + `","password":"` + strings.Repeat("é", 36) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.HandleLogin(rr, req)

	assert.Equal(t, int(service.BadPassword), decode(t, rr).E)
	assert.Equal(t, 1, mock.Calls)
}

func TestUserHandler_HandleGet(t *testing.T) {
	bob := &model.User{ID: 9, Username: "bob", Token: "t", TokenExpiresAt: 1}
	mock := &MockUserService{Return: service.Result{Outcome: service.OK, User: bob}}
	h := handler.NewUserHandler(mock, testLogger())

	t.Run("without identity", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.HandleGet(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, int(service.InternalError), decode(t, rr).E)
		assert.Zero(t, mock.Calls)
	})

	t.Run("through RequireToken", func(t *testing.T) {
		authz := authorizerFunc(func(_ context.Context, token string) service.Result {
			if token == "t" {
				return service.Result{Outcome: service.OK, User: bob}
			}
			return service.Result{Outcome: service.InvalidToken}
		})
		protected := middleware.RequireToken(authz, testLogger())(http.HandlerFunc(h.HandleGet))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.TokenHeader, "t")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		env := decode(t, rr)
		assert.Equal(t, 0, env.E)
		assert.Equal(t, int64(9), mock.CapturedID)
		assert.NotContains(t, string(env.D), "password")
	})
}

func TestUserHandler_HandleHealth(t *testing.T) {
	h := handler.NewUserHandler(&MockUserService{}, testLogger())
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	env := decode(t, rr)
	assert.Equal(t, 0, env.E)
	assert.Empty(t, env.D)
}

type authorizerFunc func(ctx context.Context, token string) service.Result

func (f authorizerFunc) Authorize(ctx context.Context, token string) service.Result {
	return f(ctx, token)
}
