package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/repository"
)

type Option func(*Storage) error

// WithSecretKey enables encryption of the storage file
func WithSecretKey(secret string) Option {
	return func(s *Storage) error {
		sealer, err := newSealer(secret)
		if err != nil {
			return err
		}
		s.sealer = sealer
		return nil
	}
}

// Storage keeps credentials as JSON array in a file
// The file is read once on creation and written on every save
type Storage struct {
	path   string
	sealer *sealer

	mu          sync.RWMutex
	credentials []models.Credential
}

var _ repository.Storage = (*Storage)(nil)

// NewStorage reads the file if it exists
// Missing or empty file means no credentials stored yet
func NewStorage(path string, opts ...Option) (*Storage, error) {
	s := &Storage{path: path, credentials: []models.Credential{}}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("file storage option error: %w", err)
		}
	}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("can't read storage file: %w", err)
	}

	if isSealed(content) {
		if s.sealer == nil {
			return nil, errSealedWithoutKey
		}
		content, err = s.sealer.open(content)
		if err != nil {
			return nil, err
		}
	}

	s.credentials, err = models.UnmarshalCredentials(content)
	if err != nil {
		return nil, fmt.Errorf("storage file %s: %w", path, err)
	}

	return s, nil
}

func (s *Storage) LoadCredentials(_ context.Context) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.credentials), nil
}

func (s *Storage) SaveCredentials(_ context.Context, credentials []models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credentials != nil {
		s.credentials = slices.Clone(credentials)
	}

	content, err := models.MarshalCredentials(s.credentials)
	if err != nil {
		return err
	}

	if s.sealer != nil {
		content, err = s.sealer.seal(content)
		if err != nil {
			return err
		}
	}

	return writeFile(s.path, content)
}

func (s *Storage) GetCredentialByUserID(_ context.Context, userID string) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.OwnerID() != "" && c.OwnerID() == userID {
			return c, nil
		}
	}

	return nil, apperrors.ErrCredentialNotFound
}

// writeFile replaces file content atomically: readers see old or new content only
func writeFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("can't create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("can't write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("can't close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("can't replace storage file: %w", err)
	}

	return nil
}
