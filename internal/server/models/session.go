package models

import "time"

// Session is one logged-in device/client instance: an opaque refresh token
// bound to a user with an absolute expiry. Sessions are never mutated after
// creation; a session whose ExpiresAt has passed is dead regardless of
// whether the row still exists.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at the given
// instant. Expiry is evaluated lazily at validation time; there is no
// background sweep.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
