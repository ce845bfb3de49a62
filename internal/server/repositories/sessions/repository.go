// Package sessions declares the server-side repository contract for the
// per-user refresh-token sessions.
package sessions

import (
	"context"
	"time"

	"github.com/dkorolev/picvault/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and removing
// sessions. A session row is written once and never updated; expiry is
// evaluated by callers against the clock, not by the store.
type Repository interface {
	// Create stores a new session for userID with an expiry of now+validity.
	// The insert is the atomic append to the user's session list; a token
	// collision is reported as common.ErrTokenTaken.
	Create(ctx context.Context, session *models.Session) error

	// Find looks up the session with the given token belonging to userID.
	// Returns common.ErrorNotFound when no such (user, token) pair exists.
	Find(ctx context.Context, userID, token string) (*models.Session, error)

	// FindByToken looks up a session by token alone, for rotation flows
	// where the caller holds only the token.
	FindByToken(ctx context.Context, token string) (*models.Session, error)

	// ListByUser returns the user's sessions in creation order.
	ListByUser(ctx context.Context, userID string) ([]*models.Session, error)

	// Delete removes a session by its token string. Deleting a non-existent
	// token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes sessions whose expiry is before now. Storage
	// hygiene only; validation never depends on it.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
