package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/handlers/render"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Visible part of redacted tokens
const tokenPrefixLen = 4

type CredentialResponse struct {
	IdentityProvider string     `json:"identity_provider"`
	UserID           string     `json:"user_id,omitempty"`
	UserName         string     `json:"user_name,omitempty"`
	AccessToken      string     `json:"access_token"`
	HasRefreshToken  bool       `json:"has_refresh_token"`
	IssuedAt         *time.Time `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Expired          bool       `json:"expired"`
	Scopes           []string   `json:"scopes"`
}

func newCredentialResponse(c models.Credential) CredentialResponse {
	credential, ok := c.(*models.OAuth2Credential)
	if !ok {
		return CredentialResponse{IdentityProvider: c.ProviderName(), UserID: c.OwnerID(), Scopes: []string{}}
	}

	res := CredentialResponse{
		IdentityProvider: credential.IdentityProvider,
		UserID:           credential.UserID,
		UserName:         credential.UserName,
		AccessToken:      redact(credential.AccessToken),
		HasRefreshToken:  credential.RefreshToken != "",
		Expired:          credential.IsExpired(),
		Scopes:           credential.Scopes,
	}
	if !credential.IssuedAt.IsZero() {
		issuedAt := credential.IssuedAt.UTC()
		res.IssuedAt = &issuedAt
	}
	if credential.ExpiresIn != nil {
		expiresAt := credential.ExpiresAt().UTC()
		res.ExpiresAt = &expiresAt
	}
	return res
}

func redact(token string) string {
	if len(token) <= 2*tokenPrefixLen {
		return "****"
	}
	return token[:tokenPrefixLen] + "****"
}

type CredentialHandler struct {
	manager credentialManager
	logger  logger.Logger
}

func NewCredential(manager credentialManager, logger logger.Logger) *CredentialHandler {
	return &CredentialHandler{manager: manager, logger: logger}
}

func (h *CredentialHandler) list(w http.ResponseWriter, r *http.Request) {
	credentials := h.manager.Credentials()

	res := make([]CredentialResponse, 0, len(credentials))
	for _, c := range credentials {
		res = append(res, newCredentialResponse(c))
	}

	render.JSON(w, res)
}

func (h *CredentialHandler) byUserID(w http.ResponseWriter, r *http.Request) {
	credential, err := h.manager.OAuth2CredentialByUserID(r.PathValue("userID"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	render.JSON(w, newCredentialResponse(credential))
}

func (h *CredentialHandler) add(w http.ResponseWriter, r *http.Request) {
	type AddCredentialRequest struct {
		Provider     string   `json:"provider" validate:"required"`
		AccessToken  string   `json:"access_token" validate:"required"`
		RefreshToken string   `json:"refresh_token"`
		UserID       string   `json:"user_id"`
		UserName     string   `json:"user_name"`
		ExpiresIn    *int     `json:"expires_in" validate:"omitempty,gte=0"`
		Scopes       []string `json:"scopes" validate:"dive,scopetoken"`
	}

	data, err := render.BindAndValidate[AddCredentialRequest](w, r)
	if err != nil {
		return
	}

	opts := []models.CredentialOption{
		models.WithRefreshToken(data.RefreshToken),
		models.WithUser(data.UserID, data.UserName),
		models.WithScopes(data.Scopes...),
	}
	if data.ExpiresIn != nil {
		opts = append(opts, models.WithExpiresIn(*data.ExpiresIn))
	}
	credential := models.NewOAuth2Credential(data.Provider, data.AccessToken, opts...)

	stored, err := addAndSave(r.Context(), h.manager, data.Provider, credential)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	render.JSONWithStatus(w, newCredentialResponse(stored), http.StatusCreated)
}

func (h *CredentialHandler) save(w http.ResponseWriter, r *http.Request) {
	type SaveSuccessResponse struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}

	if err := h.manager.Save(r.Context()); err != nil {
		serviceError(w, err, h.logger)
		return
	}

	render.JSON(w, SaveSuccessResponse{Message: "Credentials saved", Count: len(h.manager.Credentials())})
}

// addAndSave adds credential and persists credentials right away
// Returns the stored credential which may be enriched by the provider
func addAndSave(ctx context.Context, manager credentialManager, provider string, c *models.OAuth2Credential) (models.Credential, error) {
	if err := manager.AddCredential(ctx, provider, c); err != nil {
		return nil, err
	}

	if err := manager.Save(ctx); err != nil {
		return nil, err
	}

	stored, err := manager.Snapshot(c)
	if err != nil {
		return c, nil
	}
	return stored, nil
}
