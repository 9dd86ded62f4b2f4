package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/service"
)

// TokenHeader is the request header that carries the bearer token.
const TokenHeader = "token"

// Authorizer resolves a token to a user. *service.UserService implements it.
type Authorizer interface {
	Authorize(ctx context.Context, token string) service.Result
}

// Identity is what RequireToken learns about the caller.
type Identity struct {
	UserID   int64
	Username string
}

// identityKey is unexported so only this package can read or write the
// identity stored in a request context.
type identityKey struct{}

// RequireToken lets a request through only when its token header
// authorizes. The caller's Identity is then available to handlers via
// IdentityFromContext.
//
// Rejections are written as envelopes, never as bare HTTP errors:
//
//	unknown or expired token → {"e": 2}
//	authorization failed     → {"e": 1}
func RequireToken(authz Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := authz.Authorize(r.Context(), r.Header.Get(TokenHeader))

			switch res.Outcome {
			case service.OK:
				ctx := context.WithValue(r.Context(), identityKey{}, Identity{
					UserID:   res.User.ID,
					Username: res.User.Username,
				})
				next.ServeHTTP(w, r.WithContext(ctx))

			case service.InvalidToken, service.TokenExpired:
				logger.Debug("request rejected",
					slog.String("requestID", RequestIDFromContext(r.Context())),
					slog.String("outcome", res.Outcome.String()),
				)
				writeEnvelope(w, logger, service.Unauthorized)

			default:
				writeEnvelope(w, logger, service.InternalError)
			}
		})
	}
}

// IdentityFromContext returns the identity stored by RequireToken.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func writeEnvelope(w http.ResponseWriter, logger *slog.Logger, o service.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(model.Envelope{E: int(o)}); err != nil {
		logger.Error("failed to encode envelope", slog.String("error", err.Error()))
	}
}
