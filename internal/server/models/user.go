package models

import "time"

// User is the canonical account record. PasswordHash is a salted bcrypt
// hash; the plaintext password is never persisted or logged.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
