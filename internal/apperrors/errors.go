package apperrors

import (
	"errors"
)

var (
	ErrProviderNotFound          = errors.New("identity provider not found")
	ErrProviderAlreadyRegistered = errors.New("identity provider already registered")

	ErrCredentialNotFound    = errors.New("credential not found")
	ErrCredentialDuplicate   = errors.New("credential already stored")
	ErrUnsupportedCredential = errors.New("credential type is not supported")
	ErrNoRefreshToken        = errors.New("credential has no refresh token")
	ErrUnsupportedPostType   = errors.New("unknown token endpoint post type")
	ErrDeviceFlowUnsupported = errors.New("controller does not implement the device authorization grant")
	ErrAuthCodeUnsupported   = errors.New("controller does not implement the authorization code grant")
	ErrDeviceURLMissing      = errors.New("identity provider has no device authorization url")
	ErrControllerClosed      = errors.New("controller is closed")

	ErrStateInvalid = errors.New("oauth2 state is invalid")
	ErrStateExpired = errors.New("oauth2 state is expired")
)
