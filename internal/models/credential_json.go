package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
)

// Wire form of OAuth2Credential shared by every storage backend
type oauth2CredentialJSON struct {
	IdentityProvider string         `json:"identity_provider"`
	UserID           string         `json:"user_id,omitempty"`
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token,omitempty"`
	UserName         string         `json:"user_name,omitempty"`
	IssuedAt         *time.Time     `json:"issued_at,omitempty"`
	ExpiresIn        *int           `json:"expires_in,omitempty"`
	Scopes           []string       `json:"scopes"`
	Context          map[string]any `json:"context"`
}

func (c *OAuth2Credential) MarshalJSON() ([]byte, error) {
	v := oauth2CredentialJSON{
		IdentityProvider: c.IdentityProvider,
		UserID:           c.UserID,
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		UserName:         c.UserName,
		ExpiresIn:        c.ExpiresIn,
		Scopes:           c.Scopes,
		Context:          c.Context,
	}
	if !c.IssuedAt.IsZero() {
		issuedAt := c.IssuedAt.UTC()
		v.IssuedAt = &issuedAt
	}
	if v.Scopes == nil {
		v.Scopes = []string{}
	}
	if v.Context == nil {
		v.Context = map[string]any{}
	}

	return json.Marshal(v)
}

// UnmarshalJSON ignores unknown fields and applies the same defaults as NewOAuth2Credential
func (c *OAuth2Credential) UnmarshalJSON(data []byte) error {
	var v oauth2CredentialJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*c = OAuth2Credential{
		IdentityProvider: v.IdentityProvider,
		UserID:           v.UserID,
		AccessToken:      v.AccessToken,
		RefreshToken:     v.RefreshToken,
		UserName:         v.UserName,
		IssuedAt:         time.Now(),
		ExpiresIn:        v.ExpiresIn,
		Scopes:           v.Scopes,
		Context:          v.Context,
	}
	if v.IssuedAt != nil {
		c.IssuedAt = *v.IssuedAt
	}
	c.normalize()

	return nil
}

// MarshalCredentials encodes credentials as JSON array
// Only OAuth2 credentials may be encoded
func MarshalCredentials(credentials []Credential) ([]byte, error) {
	list := make([]*OAuth2Credential, 0, len(credentials))
	for _, credential := range credentials {
		c, ok := credential.(*OAuth2Credential)
		if !ok {
			return nil, fmt.Errorf("can't encode %T: %w", credential, apperrors.ErrUnsupportedCredential)
		}
		list = append(list, c)
	}

	return json.Marshal(list)
}

// UnmarshalCredentials decodes JSON array of OAuth2 credentials
// Empty input is an empty list
func UnmarshalCredentials(data []byte) ([]Credential, error) {
	credentials := []Credential{}
	if len(bytes.TrimSpace(data)) == 0 {
		return credentials, nil
	}

	var list []*OAuth2Credential
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("can't decode credentials: %w", err)
	}

	for _, c := range list {
		if c != nil {
			credentials = append(credentials, c)
		}
	}

	return credentials, nil
}
