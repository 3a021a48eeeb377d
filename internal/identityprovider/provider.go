package identityprovider

import (
	"context"

	"github.com/nkiryanov/credentialmanager/internal/models"
)

const TypeOAuth2 = "oauth2"

// IdentityProvider issues and validates credentials
type IdentityProvider interface {
	Name() string
	Type() string

	// IsValid reports whether credential is still usable without contacting the provider
	IsValid(c models.Credential) bool

	// Renew refreshes credential in place, returns false when provider can't renew it
	Renew(ctx context.Context, c models.Credential) (bool, error)
}

// OAuth2IdentityProvider is the contract controllers and the manager rely on
// It is implemented by *OAuth2Provider, tests may provide their own
type OAuth2IdentityProvider interface {
	IdentityProvider

	AuthenticationURL(scopes []string, state string) string
	AuthenticationURLWithRedirect(redirectURL string, scopes []string, state string) string

	CreateDeviceFlowRequest(ctx context.Context, scopes []string) (*models.DeviceAuthorization, error)
	DeviceAccessToken(ctx context.Context, deviceCode string) (*models.DeviceTokenResponse, error)

	CredentialByCode(ctx context.Context, code string) (*models.OAuth2Credential, error)
	CredentialByCodeWithRedirect(ctx context.Context, code string, redirectURL string) (*models.OAuth2Credential, error)
	CredentialByPassword(ctx context.Context, username string, password string, scope string) (*models.OAuth2Credential, error)
	RefreshCredential(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)
	AppAccessToken(ctx context.Context, scope string) (*models.OAuth2Credential, error)

	// AdditionalCredentialInformation returns credential with everything provider knows about the token
	// nil with no error means provider can't tell more than credential already has
	AdditionalCredentialInformation(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)
}

// Enricher looks up token details the token endpoint did not return (user, scopes, lifetime)
type Enricher interface {
	Enrich(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)
}

// EnricherFunc adapts function to Enricher
type EnricherFunc func(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error)

func (f EnricherFunc) Enrich(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	return f(ctx, c)
}
