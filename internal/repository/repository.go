package repository

import (
	"context"

	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Storage keeps the credentials between manager restarts
type Storage interface {
	// Load all stored credentials
	// Empty storage must return empty list, not an error
	LoadCredentials(ctx context.Context) ([]models.Credential, error)

	// Replace stored credentials with the provided ones
	// If credentials is nil the currently stored set is written again
	SaveCredentials(ctx context.Context, credentials []models.Credential) error

	// Get credential by the owner user id
	// If nothing found must return apperrors.ErrCredentialNotFound
	GetCredentialByUserID(ctx context.Context, userID string) (models.Credential, error)
}
