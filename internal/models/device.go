package models

import (
	"encoding/json"
	"net/url"
	"time"
)

// RFC 8628: "If no value is provided, clients MUST use 5 as the default"
const DefaultDeviceInterval = 5

// DeviceAuthorization is the response to the device authorization request
// See https://datatracker.ietf.org/doc/html/rfc8628#section-3.2
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`

	// Verification uri that already includes the user code, optional
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// Lifetime in seconds of the device and user codes
	ExpiresIn int `json:"expires_in"`

	// Minimum amount of seconds to wait between polling requests
	Interval int `json:"interval"`

	// Time the response was received
	IssuedAt time.Time `json:"-"`

	// Non-standard properties of the response
	CustomProperties map[string]any `json:"-"`
}

var deviceAuthorizationFields = map[string]struct{}{
	"device_code":               {},
	"user_code":                 {},
	"verification_uri":          {},
	"verification_uri_complete": {},
	"expires_in":                {},
	"interval":                  {},
}

func (d *DeviceAuthorization) UnmarshalJSON(data []byte) error {
	type plain DeviceAuthorization
	v := plain{Interval: DefaultDeviceInterval}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v.IssuedAt = time.Now()
	v.CustomProperties = make(map[string]any)
	for key, value := range raw {
		if _, ok := deviceAuthorizationFields[key]; ok {
			continue
		}
		var custom any
		if err := json.Unmarshal(value, &custom); err != nil {
			return err
		}
		v.CustomProperties[key] = custom
	}

	*d = DeviceAuthorization(v)
	return nil
}

// CompleteURI returns verification uri with populated user_code query parameter
// Empty string returned if verification uri is not a valid absolute url
func (d *DeviceAuthorization) CompleteURI() string {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete
	}

	u, err := url.Parse(d.VerificationURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	// Some servers include user_code to the verification uri despite RFC recommends against it
	if u.Query().Get("user_code") == d.UserCode {
		return d.VerificationURI
	}

	if u.RawQuery != "" {
		u.RawQuery += "&"
	}
	u.RawQuery += "user_code=" + url.QueryEscape(d.UserCode)

	return u.String()
}

func (d *DeviceAuthorization) ExpiresAt() time.Time {
	return d.IssuedAt.Add(time.Duration(d.ExpiresIn) * time.Second)
}

// DeviceFlowError is error code returned by the token endpoint while polling for device token
// See https://datatracker.ietf.org/doc/html/rfc8628#section-3.5
type DeviceFlowError string

const (
	// User hasn't completed the user-interaction steps yet
	DeviceAuthorizationPending DeviceFlowError = "authorization_pending"

	// Still pending, but polling interval must be increased by 5 seconds
	DeviceSlowDown DeviceFlowError = "slow_down"

	DeviceAccessDenied DeviceFlowError = "access_denied"

	// The device code has expired and the authorization session has concluded
	DeviceExpiredToken DeviceFlowError = "expired_token"

	DeviceInvalidRequest       DeviceFlowError = "invalid_request"
	DeviceInvalidClient        DeviceFlowError = "invalid_client"
	DeviceInvalidGrant         DeviceFlowError = "invalid_grant"
	DeviceUnauthorizedClient   DeviceFlowError = "unauthorized_client"
	DeviceUnsupportedGrantType DeviceFlowError = "unsupported_grant_type"

	// Server sent error not defined by RFC 8628 or RFC 6749
	DeviceUnknownError DeviceFlowError = "unknown"
)

func ParseDeviceFlowError(code string) DeviceFlowError {
	switch e := DeviceFlowError(code); e {
	case DeviceAuthorizationPending, DeviceSlowDown, DeviceAccessDenied, DeviceExpiredToken,
		DeviceInvalidRequest, DeviceInvalidClient, DeviceInvalidGrant, DeviceUnauthorizedClient,
		DeviceUnsupportedGrantType:
		return e
	default:
		return DeviceUnknownError
	}
}

// ShouldRetry reports whether the device token request should be repeated
func (e DeviceFlowError) ShouldRetry() bool {
	return e == DeviceAuthorizationPending || e == DeviceSlowDown
}

// DeviceTokenResponse holds either the approved credential or the error
type DeviceTokenResponse struct {
	Credential *OAuth2Credential
	Error      DeviceFlowError
}
