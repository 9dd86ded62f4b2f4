package auth

import (
	"crypto/rand"
	"fmt"
)

// TokenLength is the number of characters in a bearer token.
//
// 32 characters from a 62-symbol alphabet is ~190 bits of entropy, far
// beyond guessing range.
const TokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(tokenAlphabet) that fits in a
// byte. Bytes at or above it are discarded so that every symbol is
// equally likely (a plain b % 62 would favour the first 8 symbols).
const maxUnbiased = 256 - 256%len(tokenAlphabet)

// NewToken returns a fresh opaque bearer token drawn from crypto/rand.
//
// The token carries no data. It is only meaningful as a lookup key
// against the token column of the user table.
func NewToken() (string, error) {
	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength+TokenLength/4)

	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("auth: reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
