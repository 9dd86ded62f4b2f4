package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/userauth/internal/middleware"
	"github.com/sakif/userauth/internal/service"
)

// maxBodyBytes caps request bodies. Credentials are tiny.
const maxBodyBytes = 4 << 10

// UserService is what the handler needs from *service.UserService.
type UserService interface {
	Register(ctx context.Context, username, password string) service.Result
	Login(ctx context.Context, username, password string) service.Result
	Get(ctx context.Context, userID int64) service.Result
}

// credentialsRequest is the body of register and login.
//
// validator's max counts characters; the password limit is bcrypt's
// (auth.MaxPasswordBytes) and counts bytes, hence the custom maxbytes rule.
type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// UserHandler serves the account endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → create an account, return it with its first token
//   - HandleLogin    → check credentials, return the (possibly rotated) token
//   - HandleGet      → return the caller's own account (behind RequireToken)
//
// Handlers only decode, validate and translate. Every rule lives in the
// service.
type UserHandler struct {
	users    UserService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		validate: newValidator(),
		logger:   logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// HandleHealth answers {"e":0} so load balancers can probe the service.
//
// HTTP: GET {prefix}/health
func (h *UserHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, h.logger, service.OK, nil)
}

// HandleRegister creates an account.
//
// HTTP: POST {prefix}/user/register
// Body: {"username": "alice", "password": "secret"}
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}
	writeResult(w, h.logger, h.users.Register(r.Context(), req.Username, req.Password))
}

// HandleLogin checks credentials and returns the caller's token.
//
// HTTP: POST {prefix}/user/login
// Body: {"username": "alice", "password": "secret"}
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}
	writeResult(w, h.logger, h.users.Login(r.Context(), req.Username, req.Password))
}

// HandleGet returns the authenticated caller's account.
//
// HTTP: GET {prefix}/user/get   (header: token)
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		// Route wired without RequireToken.
		h.logger.Error("user/get reached without identity")
		writeEnvelope(w, h.logger, service.InternalError, nil)
		return
	}
	writeResult(w, h.logger, h.users.Get(r.Context(), id.UserID))
}

// decodeCredentials reads and validates a credentials body. On failure it
// has already written {"e":3} and returns false.
func (h *UserHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reject(w, r, "malformed body", err)
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		h.reject(w, r, "invalid credentials", err)
		return req, false
	}
	return req, true
}

func (h *UserHandler) reject(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Debug(msg,
		slog.String("requestID", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	writeEnvelope(w, h.logger, service.InvalidRequest, nil)
}
