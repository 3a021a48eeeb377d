package handlers

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/credentialmanager/internal/handlers/render"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// OAuth2Handler runs the authorization code grant in the browser
type OAuth2Handler struct {
	manager     credentialManager
	states      stateManager
	callbackURL string
	logger      logger.Logger
}

func NewOAuth2(manager credentialManager, states stateManager, callbackURL string, logger logger.Logger) *OAuth2Handler {
	return &OAuth2Handler{
		manager:     manager,
		states:      states,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// authorize redirects to the provider, scopes are space separated "scope" query parameter
func (h *OAuth2Handler) authorize(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.OAuth2ProviderByName(r.PathValue("name"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	scopes := strings.Fields(r.URL.Query().Get("scope"))

	state, err := h.states.Issue(p.Name(), h.callbackURL)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	var location string
	if h.callbackURL != "" {
		location = p.AuthenticationURLWithRedirect(h.callbackURL, scopes, state)
	} else {
		location = p.AuthenticationURL(scopes, state)
	}

	http.Redirect(w, r, location, http.StatusFound)
}

// callback exchanges authorization code and stores the credential
func (h *OAuth2Handler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// RFC 6749 section 4.1.2.1: user denied access or request was invalid
	if code := query.Get("error"); code != "" {
		message := "Authorization failed: " + code
		if description := query.Get("error_description"); description != "" {
			message += ": " + description
		}
		render.ServiceError(w, message, http.StatusBadRequest)
		return
	}

	claims, err := h.states.Parse(query.Get("state"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	code := query.Get("code")
	if code == "" {
		render.ServiceError(w, "Authorization code is missing", http.StatusBadRequest)
		return
	}

	p, err := h.manager.OAuth2ProviderByName(claims.Provider)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	var credential *models.OAuth2Credential
	if claims.RedirectURL != "" {
		credential, err = p.CredentialByCodeWithRedirect(r.Context(), code, claims.RedirectURL)
	} else {
		credential, err = p.CredentialByCode(r.Context(), code)
	}
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
