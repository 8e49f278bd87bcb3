// Package store persists users and issued registration tokens. Two backends
// exist: GORM over Postgres for deployments and an in-memory map used when no
// database is configured and by tests.
package store

import (
	"context"
	"errors"

	"github.com/zaqqye/relay/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence surface shared by the broker and the HTTP API.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByPublicID(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, userID string) error
	CountByRole(ctx context.Context, role string) (int64, error)

	RecordToken(ctx context.Context, tok *models.IssuedToken) error
	TokenByID(ctx context.Context, jti string) (*models.IssuedToken, error)
	RevokeToken(ctx context.Context, jti string) error
}
