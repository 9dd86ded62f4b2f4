package service

import (
	"fmt"

	"github.com/sakif/userauth/internal/model"
)

// Outcome is the discriminator carried by every UserService result and
// written to the wire as the envelope's "e" field.
//
// Business outcomes (duplicate username, wrong password, ...) are results,
// not errors: the caller is expected to branch on them.
type Outcome int

const (
	OK            Outcome = 0
	InternalError Outcome = 1

	// Unauthorized is produced by the transport layer and covers
	// InvalidToken and TokenExpired on protected routes. InvalidRequest is
	// a malformed body there, and a password Register cannot hash here.
	Unauthorized   Outcome = 2
	InvalidRequest Outcome = 3

	DuplicateUsername Outcome = 10
	BadPassword       Outcome = 11
	UserNotFound      Outcome = 12
	InvalidToken      Outcome = 13
	TokenExpired      Outcome = 14
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case InternalError:
		return "InternalError"
	case Unauthorized:
		return "Unauthorized"
	case InvalidRequest:
		return "InvalidRequest"
	case DuplicateUsername:
		return "DuplicateUsername"
	case BadPassword:
		return "BadPassword"
	case UserNotFound:
		return "UserNotFound"
	case InvalidToken:
		return "InvalidToken"
	case TokenExpired:
		return "TokenExpired"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is what every UserService operation returns. User is set on OK
// and on TokenExpired (so the caller can see whose token went stale);
// it is nil otherwise. It never carries the password hash.
type Result struct {
	Outcome Outcome
	User    *model.User
}

func result(o Outcome) Result {
	return Result{Outcome: o}
}

func success(u *model.User) Result {
	return Result{Outcome: OK, User: u}
}
