package gcpsecret

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/repository"
)

// SecretClient is the part of *secretmanager.Client used by the storage
type SecretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	DestroySecretVersion(ctx context.Context, req *secretmanagerpb.DestroySecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
}

var _ SecretClient = (*secretmanager.Client)(nil)

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// NewClient creates Secret Manager client
// Application default credentials are used when credentialsFile is empty
func NewClient(ctx context.Context, credentialsFile string) (*secretmanager.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return client, nil
}

// Storage keeps credentials JSON array as the latest version of a secret
// The secret itself must exist. Every save adds a version and destroys the one it replaced,
// so a single enabled version is kept (and billed) no matter how often credentials are refreshed
type Storage struct {
	client SecretClient
	secret string
	logger logger.Logger

	mu          sync.RWMutex
	credentials []models.Credential

	// Version the credentials were read from or written to, empty if secret has none
	version string
}

var _ repository.Storage = (*Storage)(nil)

type Option func(*Storage)

func WithLogger(l logger.Logger) Option {
	return func(s *Storage) {
		s.logger = l
	}
}

// NewStorage reads the latest secret version
// secret is a resource name in format projects/<project>/secrets/<secret>
func NewStorage(ctx context.Context, client SecretClient, secret string, opts ...Option) (*Storage, error) {
	if !validSecretName(secret) {
		return nil, fmt.Errorf("invalid secret name %q, expected projects/<project>/secrets/<secret>", secret)
	}

	s := &Storage{client: client, secret: secret, logger: logger.NewNoOpLogger()}
	for _, opt := range opts {
		opt(s)
	}

	credentials, version, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.credentials = credentials
	s.version = version

	return s, nil
}

func validSecretName(name string) bool {
	parts := strings.Split(name, "/")
	return len(parts) == 4 && parts[0] == "projects" && parts[1] != "" && parts[2] == "secrets" && parts[3] != ""
}

func (s *Storage) fetch(ctx context.Context) ([]models.Credential, string, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secret + "/versions/latest",
	})
	if status.Code(err) == codes.NotFound {
		return []models.Credential{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to access secret version: %w", err)
	}

	payload := resp.GetPayload()
	if sum := payload.DataCrc32C; sum != nil && int64(crc32.Checksum(payload.GetData(), crc32c)) != *sum {
		return nil, "", errors.New("secret payload checksum mismatch")
	}

	credentials, err := models.UnmarshalCredentials(payload.GetData())
	if err != nil {
		return nil, "", fmt.Errorf("secret %s: %w", s.secret, err)
	}

	return credentials, resp.GetName(), nil
}

func (s *Storage) LoadCredentials(ctx context.Context) ([]models.Credential, error) {
	credentials, version, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = credentials
	s.version = version

	return slices.Clone(credentials), nil
}

func (s *Storage) SaveCredentials(ctx context.Context, credentials []models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.credentials
	if credentials != nil {
		list = slices.Clone(credentials)
	}

	data, err := models.MarshalCredentials(list)
	if err != nil {
		return err
	}

	sum := int64(crc32.Checksum(data, crc32c))
	added, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: s.secret,
		Payload: &secretmanagerpb.SecretPayload{
			Data:       data,
			DataCrc32C: &sum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}

	previous := s.version
	s.credentials = list
	s.version = added.GetName()

	// Credentials are saved already, stale version only costs money
	if previous != "" && previous != s.version {
		_, err := s.client.DestroySecretVersion(ctx, &secretmanagerpb.DestroySecretVersionRequest{Name: previous})
		if err != nil {
			s.logger.Warn("Failed to destroy replaced secret version", "version", previous, "error", err)
		}
	}

	return nil
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
