package controller

import (
	"context"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Dummy does nothing but logging
type Dummy struct {
	manager Manager
	logger  logger.Logger
}

var _ Controller = (*Dummy)(nil)

func NewDummy(log logger.Logger) *Dummy {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Dummy{logger: log}
}

func (d *Dummy) SetCredentialManager(m Manager) {
	d.manager = m
}

func (d *Dummy) StartAuthorizationCodeGrant(_ context.Context, p identityprovider.OAuth2IdentityProvider, redirectURL string, scopes []string) error {
	d.logger.Debug("Authorization code grant requested", "provider", p.Name(), "redirect_url", redirectURL, "scopes", scopes)
	return nil
}

func (d *Dummy) StartDeviceAuthorizationGrant(context.Context, identityprovider.OAuth2IdentityProvider, []string, func(*models.DeviceTokenResponse)) (*models.DeviceAuthorization, error) {
	return nil, apperrors.ErrDeviceFlowUnsupported
}

func (d *Dummy) RegisterCredential(_ context.Context, c models.Credential) {
	d.logger.Debug("Credential registered", "provider", c.ProviderName(), "user_id", c.OwnerID())
}

func (d *Dummy) Close() error {
	return nil
}
