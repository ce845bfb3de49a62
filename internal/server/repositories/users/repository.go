// Package users declares the repository contract for the canonical user
// record.
package users

import (
	"context"

	"github.com/dkorolev/picvault/internal/server/models"
)

type Repository interface {
	// Create persists a new user. A uniqueness violation on email is
	// reported as common.ErrEmailTaken.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail looks a user up by normalized email. Returns
	// common.ErrorNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID looks a user up by id. Returns common.ErrorNotFound when
	// absent.
	GetByID(ctx context.Context, id string) (*models.User, error)
}
