// Package auth holds the credential primitives: password hashing and
// bearer token generation.
//
// Hashes embed their salt and parameters, so the stored string is all a
// later Verify needs. bcrypt is the default. argon2id is memory-hard and can be selected with
// PASSWORD_SCHEME=argon2id. Verify recognises both formats from the hash
// prefix, so switching schemes never locks out existing users:
//
//	$2a$12$<22-char salt><31-char hash>               bcrypt
//	$argon2id$v=19$m=65536,t=2,p=4$<salt>$<hash>      argon2id
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/userauth/internal/config"
)

// MaxPasswordBytes is the bcrypt input limit. Longer passwords are
// rejected rather than silently truncated, whichever scheme is active.
const MaxPasswordBytes = 72

// defaultCost is the bcrypt work factor.
const defaultCost = 12

// defaultArgonParams follow the OWASP minimum for argon2id.
var defaultArgonParams = &argon2id.Params{
	Memory:      64 * 1024, // 64 MiB
	Iterations:  2,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// ErrMismatch is returned by Verify when the password is wrong.
var ErrMismatch = errors.New("auth: password does not match")

// PasswordService hashes with one scheme and verifies against any.
type PasswordService struct {
	scheme string
	cost   int
	argon  *argon2id.Params
}

// NewPasswordService returns a service that hashes new passwords with
// scheme (config.SchemeBcrypt or config.SchemeArgon2id). An empty scheme
// means bcrypt.
func NewPasswordService(scheme string) (*PasswordService, error) {
	switch scheme {
	case "", config.SchemeBcrypt:
		return &PasswordService{scheme: config.SchemeBcrypt, cost: defaultCost, argon: defaultArgonParams}, nil
	case config.SchemeArgon2id:
		return &PasswordService{scheme: config.SchemeArgon2id, cost: defaultCost, argon: defaultArgonParams}, nil
	}
	return nil, fmt.Errorf("auth: unknown password scheme %q", scheme)
}

// NewPasswordServiceForTest returns a bcrypt service with the given cost
// (bcrypt.MinCost is 4). Use it in tests in other packages to avoid the
// ~250ms overhead of cost 12 per hashing operation.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{scheme: config.SchemeBcrypt, cost: cost, argon: testArgonParams}
}

// testArgonParams keep argon2id verification fast in tests.
var testArgonParams = &argon2id.Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Scheme reports the scheme used for new hashes.
func (p *PasswordService) Scheme() string {
	return p.scheme
}

// Hash hashes the plaintext with the configured scheme. The result is
// self-describing and can be stored as is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	if p.scheme == config.SchemeArgon2id {
		hashed, err := argon2id.CreateHash(plaintext, p.argon)
		if err != nil {
			return "", fmt.Errorf("auth: hashing password: %w", err)
		}
		return hashed, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks plaintext against a stored hash of either scheme.
//
// Returns nil on a match, ErrMismatch on a wrong password and any other
// error when the stored hash cannot be decoded. Both comparisons are
// constant-time.
//
// Hash never accepts more than MaxPasswordBytes, so a longer plaintext is
// a mismatch. bcrypt would otherwise compare only its first 72 bytes.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if len(plaintext) > MaxPasswordBytes {
		return ErrMismatch
	}

	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		ok, err := argon2id.ComparePasswordAndHash(plaintext, hash)
		if err != nil {
			return fmt.Errorf("auth: comparing argon2id hash: %w", err)
		}
		if !ok {
			return ErrMismatch
		}
		return nil

	case strings.HasPrefix(hash, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		if err != nil {
			return fmt.Errorf("auth: comparing bcrypt hash: %w", err)
		}
		return nil
	}

	return errors.New("auth: unrecognised password hash format")
}
