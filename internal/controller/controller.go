package controller

import (
	"context"

	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Manager is the part of credential manager controllers work with
type Manager interface {
	AddCredential(ctx context.Context, providerName string, c models.Credential) error
	OAuth2ProviderByName(name string) (identityprovider.OAuth2IdentityProvider, error)

	// Snapshot returns copy of the stored credential, ErrCredentialNotFound if it was removed
	Snapshot(c models.Credential) (models.Credential, error)
	UpdateCredential(c models.Credential, newer *models.OAuth2Credential) error

	Save(ctx context.Context) error
}

// Controller drives interactive authorization flows and reacts on credentials added to the manager
type Controller interface {
	SetCredentialManager(m Manager)

	StartAuthorizationCodeGrant(ctx context.Context, p identityprovider.OAuth2IdentityProvider, redirectURL string, scopes []string) error

	// StartDeviceAuthorizationGrant returns device authorization to present to the user
	// callback gets the final response: credential or error that should not be retried
	// nil response means the controller was closed before the flow finished
	StartDeviceAuthorizationGrant(ctx context.Context, p identityprovider.OAuth2IdentityProvider, scopes []string, callback func(*models.DeviceTokenResponse)) (*models.DeviceAuthorization, error)

	// RegisterCredential is called by the manager for every credential it stores
	// c is a handle of the stored credential, read it with Manager.Snapshot
	RegisterCredential(ctx context.Context, c models.Credential)

	Close() error
}
