package store

import (
	"context"
	"errors"

	"github.com/nhle/imapauth/internal/model"
)

var (
	// ErrUserExists is returned by Register when the user id is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned by lookups for an unknown user id.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidLocalpart is returned by Register for an empty or
	// malformed local part.
	ErrInvalidLocalpart = errors.New("invalid localpart")
)

// Store defines the persistence interface of the host account directory.
type Store interface {
	// === Provider callbacks ===

	CheckUserExists(ctx context.Context, userID string) (bool, error)
	Register(ctx context.Context, localpart string, emails []string) (userID, accessToken string, err error)

	// === Lookups ===

	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UserIDForEmail(ctx context.Context, address string) (string, error)
}
