// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the public view of an account: everything the API may return.
//
// WHY NO PASSWORD HASH HERE?
// The hash lives only in Credentials, which has no JSON tags and is never
// handed to the transport layer. A User can be serialized straight into a
// response without any risk of leaking it.
//
// TokenExpiresAt is epoch milliseconds, the unit stored in the database.
type User struct {
	ID             int64  `json:"user_id"`
	Username       string `json:"username"`
	Token          string `json:"token"`
	TokenExpiresAt int64  `json:"token_expires_at"`
}

// Expired reports whether the token is no longer valid at now. A token is
// valid strictly before its expiry instant.
func (u *User) Expired(now time.Time) bool {
	return now.UnixMilli() >= u.TokenExpiresAt
}

// ExpiresAt returns TokenExpiresAt as a time.Time.
func (u *User) ExpiresAt() time.Time {
	return time.UnixMilli(u.TokenExpiresAt)
}

// Credentials is a full user row, password hash included. It never
// leaves the service layer.
type Credentials struct {
	User
	PasswordHash string
}
