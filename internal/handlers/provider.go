package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/handlers/render"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

type ProviderResponse struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	DeviceFlow bool   `json:"device_flow"`
}

type DeviceFlowResponse struct {
	UserCode                string    `json:"user_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete,omitempty"`
	ExpiresAt               time.Time `json:"expires_at"`
	Interval                int       `json:"interval"`
}

type ScopesRequest struct {
	Scopes []string `json:"scopes" validate:"dive,scopetoken"`
}

type ProviderHandler struct {
	manager credentialManager
	logger  logger.Logger
}

func NewProvider(manager credentialManager, logger logger.Logger) *ProviderHandler {
	return &ProviderHandler{manager: manager, logger: logger}
}

func (h *ProviderHandler) list(w http.ResponseWriter, r *http.Request) {
	providers := h.manager.IdentityProviders()

	res := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		item := ProviderResponse{Name: p.Name(), Type: p.Type()}
		if d, ok := p.(interface{ SupportsDeviceFlow() bool }); ok {
			item.DeviceFlow = d.SupportsDeviceFlow()
		}
		res = append(res, item)
	}

	render.JSON(w, res)
}

// device starts device flow, credential is added by the controller once user approves it
func (h *ProviderHandler) device(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[ScopesRequest](w, r)
	if err != nil {
		return
	}

	p, err := h.manager.OAuth2ProviderByName(r.PathValue("name"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	log := h.logger.With("provider", p.Name())
	auth, err := h.manager.Controller().StartDeviceAuthorizationGrant(r.Context(), p, data.Scopes, func(resp *models.DeviceTokenResponse) {
		switch {
		case resp == nil:
			log.Info("Device flow cancelled")
		case resp.Credential != nil:
			log.Info("Device flow completed", "user_id", resp.Credential.UserID)
			if err := h.manager.Save(context.Background()); err != nil {
				log.Error("Failed to save credentials", "error", err)
			}
		default:
			log.Info("Device flow failed", "error", resp.Error)
		}
	})
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	render.JSONWithStatus(w, DeviceFlowResponse{
		UserCode:                auth.UserCode,
		VerificationURI:         auth.VerificationURI,
		VerificationURIComplete: auth.CompleteURI(),
		ExpiresAt:               auth.ExpiresAt().UTC(),
		Interval:                auth.Interval,
	}, http.StatusAccepted)
}

// appToken gets application token with the client credentials grant
func (h *ProviderHandler) appToken(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[ScopesRequest](w, r)
	if err != nil {
		return
	}

	p, err := h.manager.OAuth2ProviderByName(r.PathValue("name"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	credential, err := p.AppAccessToken(r.Context(), strings.Join(data.Scopes, " "))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	stored, err := addAndSave(r.Context(), h.manager, p.Name(), credential)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	render.JSONWithStatus(w, newCredentialResponse(stored), http.StatusCreated)
}
