package controller

import (
	"context"
	"sync"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// fakeProvider answers with the configured functions, unset ones return zero values
type fakeProvider struct {
	name string

	createDeviceFlow func(ctx context.Context, scopes []string) (*models.DeviceAuthorization, error)
	deviceToken      func(ctx context.Context, deviceCode string) (*models.DeviceTokenResponse, error)
	refresh          func(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)
	appToken         func(ctx context.Context, scope string) (*models.OAuth2Credential, error)
	additional       func(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)
}

var _ identityprovider.OAuth2IdentityProvider = (*fakeProvider)(nil)

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Type() string { return identityprovider.TypeOAuth2 }
func (p *fakeProvider) IsValid(models.Credential) bool { return true }
func (p *fakeProvider) Renew(context.Context, models.Credential) (bool, error) { return false, nil }
func (p *fakeProvider) AuthenticationURL([]string, string) string { return "" }
func (p *fakeProvider) AuthenticationURLWithRedirect(string, []string, string) string {
	return ""
}

func (p *fakeProvider) CreateDeviceFlowRequest(ctx context.Context, scopes []string) (*models.DeviceAuthorization, error) {
	return p.createDeviceFlow(ctx, scopes)
}

func (p *fakeProvider) DeviceAccessToken(ctx context.Context, deviceCode string) (*models.DeviceTokenResponse, error) {
	return p.deviceToken(ctx, deviceCode)
}

func (p *fakeProvider) CredentialByCode(context.Context, string) (*models.OAuth2Credential, error) {
	return nil, nil
}

func (p *fakeProvider) CredentialByCodeWithRedirect(context.Context, string, string) (*models.OAuth2Credential, error) {
	return nil, nil
}

func (p *fakeProvider) CredentialByPassword(context.Context, string, string, string) (*models.OAuth2Credential, error) {
	return nil, nil
}

func (p *fakeProvider) RefreshCredential(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	return p.refresh(ctx, c)
}

func (p *fakeProvider) AppAccessToken(ctx context.Context, scope string) (*models.OAuth2Credential, error) {
	return p.appToken(ctx, scope)
}

func (p *fakeProvider) AdditionalCredentialInformation(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	if p.additional == nil {
		return nil, nil
	}
	return p.additional(ctx, c)
}

// fakeManager keeps credentials in memory the way the real manager does: handles in, clones out
type fakeManager struct {
	mu          sync.Mutex
	providers   map[string]identityprovider.OAuth2IdentityProvider
	credentials []*models.OAuth2Credential
	saves       int
}

var _ Manager = (*fakeManager)(nil)

func newFakeManager(providers ...identityprovider.OAuth2IdentityProvider) *fakeManager {
	m := &fakeManager{providers: make(map[string]identityprovider.OAuth2IdentityProvider)}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

func (m *fakeManager) AddCredential(_ context.Context, _ string, c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = append(m.credentials, c.(*models.OAuth2Credential))
	return nil
}

func (m *fakeManager) OAuth2ProviderByName(name string) (identityprovider.OAuth2IdentityProvider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, apperrors.ErrProviderNotFound
	}
	return p, nil
}

func (m *fakeManager) find(c models.Credential) *models.OAuth2Credential {
	for _, stored := range m.credentials {
		if stored == c {
			return stored
		}
	}
	return nil
}

func (m *fakeManager) Snapshot(c models.Credential) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.find(c)
	if stored == nil {
		return nil, apperrors.ErrCredentialNotFound
	}
	return stored.Clone(), nil
}

func (m *fakeManager) UpdateCredential(c models.Credential, newer *models.OAuth2Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.find(c)
	if stored == nil {
		return apperrors.ErrCredentialNotFound
	}
	stored.Update(newer)
	return nil
}

func (m *fakeManager) Save(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func (m *fakeManager) snapshot(c models.Credential) *models.OAuth2Credential {
	s, err := m.Snapshot(c)
	if err != nil {
		return nil
	}
	return s.(*models.OAuth2Credential)
}

func (m *fakeManager) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *fakeManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credentials)
}
