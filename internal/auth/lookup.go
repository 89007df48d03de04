package auth

import (
	"context"

	"github.com/LabShare/services/internal/models"
)

// Lookup resolves an auth token to a user. It must return exactly one of a
// non-nil user or an error.
type Lookup interface {
	AuthenticateUser(ctx context.Context, token string) (*models.User, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, token string) (*models.User, error)

func (f LookupFunc) AuthenticateUser(ctx context.Context, token string) (*models.User, error) {
	return f(ctx, token)
}
