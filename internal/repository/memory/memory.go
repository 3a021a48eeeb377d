package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/repository"
)

// Storage keeps credentials in process memory only
type Storage struct {
	mu          sync.RWMutex
	credentials []models.Credential
}

var _ repository.Storage = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{credentials: []models.Credential{}}
}

func (s *Storage) LoadCredentials(_ context.Context) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.credentials), nil
}

func (s *Storage) SaveCredentials(_ context.Context, credentials []models.Credential) error {
	if credentials == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials = slices.Clone(credentials)
	return nil
}

// GetCredentialByUserID matches user id case-insensitive
func (s *Storage) GetCredentialByUserID(_ context.Context, userID string) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.OwnerID() != "" && strings.EqualFold(c.OwnerID(), userID) {
			return c, nil
		}
	}

	return nil, apperrors.ErrCredentialNotFound
}
