package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/handlers/render"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
)

// serviceError renders error returned by manager, controller or provider
func serviceError(w http.ResponseWriter, err error, log logger.Logger) {
	var reqErr *identityprovider.RequestError

	switch {
	case errors.Is(err, apperrors.ErrProviderNotFound):
		render.ServiceError(w, "Identity provider not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrCredentialNotFound):
		render.ServiceError(w, "Credential not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrCredentialDuplicate):
		render.ServiceError(w, "Credential already stored", http.StatusConflict)
	case errors.Is(err, apperrors.ErrStateExpired):
		render.ServiceError(w, "Authorization request expired, start again", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrStateInvalid):
		render.ServiceError(w, "Invalid state", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrDeviceURLMissing):
		render.ServiceError(w, "Identity provider does not support device flow", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrDeviceFlowUnsupported), errors.Is(err, apperrors.ErrAuthCodeUnsupported):
		render.ServiceError(w, "Not supported by the authentication controller", http.StatusNotImplemented)
	case errors.Is(err, apperrors.ErrControllerClosed):
		render.ServiceError(w, "Shutting down", http.StatusServiceUnavailable)
	case errors.As(err, &reqErr):
		log.Warn("Identity provider request failed", "error", err)
		render.ServiceError(w, "Identity provider request failed", http.StatusBadGateway)
	default:
		log.Error("Internal server error", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
