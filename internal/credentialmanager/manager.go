package credentialmanager

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/controller"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/repository"
	"github.com/nkiryanov/credentialmanager/internal/repository/memory"
)

// Manager keeps credentials issued by registered identity providers
// Credentials handed out are copies, stored ones change only under the manager lock
type Manager struct {
	storage    repository.Storage
	controller controller.Controller
	logger     logger.Logger

	providersMu sync.RWMutex
	providers   map[string]identityprovider.IdentityProvider

	mu          sync.RWMutex
	credentials []models.Credential

	// Load and Save must not interleave
	persistMu sync.Mutex
}

var _ controller.Manager = (*Manager)(nil)

type Option func(*options)

type options struct {
	storage    repository.Storage
	controller controller.Controller
	logger     logger.Logger
	providers  []identityprovider.IdentityProvider
}

func WithStorage(s repository.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

func WithController(c controller.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithIdentityProviders registers providers before stored credentials are loaded
func WithIdentityProviders(providers ...identityprovider.IdentityProvider) Option {
	return func(o *options) {
		o.providers = append(o.providers, providers...)
	}
}

// New creates manager and loads stored credentials
// Defaults are in-memory storage and the Dummy controller
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.NewNoOpLogger()
	}
	if o.storage == nil {
		o.storage = memory.NewStorage()
	}
	if o.controller == nil {
		o.controller = controller.NewDummy(o.logger)
	}

	m := &Manager{
		storage:     o.storage,
		controller:  o.controller,
		logger:      o.logger,
		providers:   make(map[string]identityprovider.IdentityProvider),
		credentials: []models.Credential{},
	}

	for _, p := range o.providers {
		if err := m.RegisterIdentityProvider(p); err != nil {
			return nil, err
		}
	}

	m.controller.SetCredentialManager(m)

	if err := m.Load(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) Storage() repository.Storage {
	return m.storage
}

func (m *Manager) Controller() controller.Controller {
	return m.controller
}

// RegisterIdentityProvider registers provider by case-insensitive name
// Registering provider of the same type twice is allowed and keeps the first one
func (m *Manager) RegisterIdentityProvider(p identityprovider.IdentityProvider) error {
	name := strings.ToLower(p.Name())

	m.providersMu.Lock()
	defer m.providersMu.Unlock()

	if previous, ok := m.providers[name]; ok {
		if reflect.TypeOf(previous) == reflect.TypeOf(p) {
			m.logger.Info("Identity provider was already registered", "provider", p.Name(), "type", p.Type())
			return nil
		}
		return fmt.Errorf("identity provider %s: %w", p.Name(), apperrors.ErrProviderAlreadyRegistered)
	}

	m.providers[name] = p
	m.logger.Debug("Identity provider registered", "provider", p.Name(), "type", p.Type(), "total", len(m.providers))
	return nil
}

// IdentityProviders returns registered providers ordered by name
func (m *Manager) IdentityProviders() []identityprovider.IdentityProvider {
	m.providersMu.RLock()
	defer m.providersMu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)

	providers := make([]identityprovider.IdentityProvider, 0, len(names))
	for _, name := range names {
		providers = append(providers, m.providers[name])
	}
	return providers
}

func (m *Manager) IdentityProviderByName(name string) (identityprovider.IdentityProvider, error) {
	m.providersMu.RLock()
	defer m.providersMu.RUnlock()

	p, ok := m.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("identity provider %s: %w", name, apperrors.ErrProviderNotFound)
	}
	return p, nil
}

func (m *Manager) OAuth2ProviderByName(name string) (identityprovider.OAuth2IdentityProvider, error) {
	p, err := m.IdentityProviderByName(name)
	if err != nil {
		return nil, err
	}

	oauth2, ok := p.(identityprovider.OAuth2IdentityProvider)
	if !ok {
		return nil, fmt.Errorf("identity provider %s is not oauth2: %w", name, apperrors.ErrProviderNotFound)
	}
	return oauth2, nil
}

// AddCredential stores credential and hands it to the controller
// OAuth2 credentials are enriched with what the provider knows about the token
// Access token already stored for the provider is ErrCredentialDuplicate
func (m *Manager) AddCredential(ctx context.Context, providerName string, c models.Credential) error {
	if credential, ok := c.(*models.OAuth2Credential); ok {
		p, err := m.OAuth2ProviderByName(providerName)
		if err != nil {
			return err
		}
		if !strings.EqualFold(p.Type(), identityprovider.TypeOAuth2) {
			return fmt.Errorf("identity provider %s has type %s: %w", providerName, p.Type(), apperrors.ErrProviderNotFound)
		}

		enriched, err := p.AdditionalCredentialInformation(ctx, credential)
		switch {
		case err != nil:
			m.logger.Warn("Failed to get additional credential information", "provider", providerName, "error", err)
		case enriched != nil:
			c = enriched
		}
	}

	stored := c.Clone()

	m.mu.Lock()
	if m.indexOf(stored) >= 0 {
		m.mu.Unlock()
		return fmt.Errorf("provider %s: %w", stored.ProviderName(), apperrors.ErrCredentialDuplicate)
	}
	m.credentials = append(m.credentials, stored)
	m.mu.Unlock()

	m.logger.Info("Credential added", "provider", stored.ProviderName(), "user_id", stored.OwnerID())
	m.controller.RegisterCredential(ctx, stored)
	return nil
}

// Credentials returns copies of all credentials
func (m *Manager) Credentials() []models.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return cloneAll(m.credentials)
}

// OAuth2CredentialByUserID matches user id case-insensitive
func (m *Manager) OAuth2CredentialByUserID(userID string) (*models.OAuth2Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if credential, ok := c.(*models.OAuth2Credential); ok && strings.EqualFold(credential.UserID, userID) {
			return credential.Clone().(*models.OAuth2Credential), nil
		}
	}

	return nil, fmt.Errorf("credential of user %s: %w", userID, apperrors.ErrCredentialNotFound)
}

// Snapshot returns current copy of the stored credential
// Credential is matched by identity, copies match by provider and access token
func (m *Manager) Snapshot(c models.Credential) (models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexOf(c)
	if i < 0 {
		return nil, apperrors.ErrCredentialNotFound
	}
	return m.credentials[i].Clone(), nil
}

func (m *Manager) UpdateCredential(c models.Credential, newer *models.OAuth2Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(c)
	if i < 0 {
		return apperrors.ErrCredentialNotFound
	}

	credential, ok := m.credentials[i].(*models.OAuth2Credential)
	if !ok {
		return apperrors.ErrUnsupportedCredential
	}
	credential.Update(newer)
	return nil
}

// RemoveCredential forgets the credential, storage is changed on the next Save
func (m *Manager) RemoveCredential(c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(c)
	if i < 0 {
		return apperrors.ErrCredentialNotFound
	}

	m.credentials = slices.Delete(m.credentials, i, i+1)
	return nil
}

func (m *Manager) indexOf(c models.Credential) int {
	for i, stored := range m.credentials {
		if stored == c {
			return i
		}
	}

	credential, ok := c.(*models.OAuth2Credential)
	if !ok {
		return -1
	}
	for i, stored := range m.credentials {
		s, ok := stored.(*models.OAuth2Credential)
		if ok && strings.EqualFold(s.IdentityProvider, credential.IdentityProvider) && s.AccessToken == credential.AccessToken {
			return i
		}
	}
	return -1
}

// Load replaces credentials with the stored ones
// Credentials already kept by the manager stay the same handles, so the controller gets only new ones
func (m *Manager) Load(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	loaded, err := m.storage.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	m.mu.Lock()
	credentials := make([]models.Credential, 0, len(loaded))
	var added []models.Credential
	for _, c := range loaded {
		if existing := m.tracked(c); existing != nil {
			if !slices.Contains(credentials, existing) {
				credentials = append(credentials, existing)
			}
			continue
		}
		clone := c.Clone()
		credentials = append(credentials, clone)
		added = append(added, clone)
	}
	m.credentials = credentials
	m.mu.Unlock()

	m.logger.Debug("Credentials loaded", "count", len(credentials), "new", len(added))
	for _, c := range added {
		m.controller.RegisterCredential(ctx, c)
	}
	return nil
}

// tracked refreshes stored credential matching c with the loaded values and returns it
// Must be called with m.mu held
func (m *Manager) tracked(c models.Credential) models.Credential {
	i := m.indexOf(c)
	if i < 0 {
		return nil
	}

	existing := m.credentials[i]
	stored, ok := existing.(*models.OAuth2Credential)
	loaded, isOAuth2 := c.(*models.OAuth2Credential)
	if ok && isOAuth2 {
		*stored = *loaded.Clone().(*models.OAuth2Credential)
	}
	return existing
}

func (m *Manager) Save(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	credentials := m.Credentials()
	if err := m.storage.SaveCredentials(ctx, credentials); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	m.logger.Debug("Credentials saved", "count", len(credentials))
	return nil
}

// Close stops the controller
func (m *Manager) Close() error {
	return m.controller.Close()
}

func cloneAll(credentials []models.Credential) []models.Credential {
	clones := make([]models.Credential, 0, len(credentials))
	for _, c := range credentials {
		clones = append(clones, c.Clone())
	}
	return clones
}
