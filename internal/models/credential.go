package models

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Prefix some providers (twitch chat, for example) put in front of access tokens
const accessTokenPrefix = "oauth:"

var (
	// ExpiredAt is reported by credentials without a known issue time
	ExpiredAt = time.Time{}

	// NeverExpiresAt is reported by credentials without a lifetime
	NeverExpiresAt = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// Credential is anything the credential manager keeps on behalf of an identity provider
type Credential interface {
	// Name of the identity provider that issued the credential
	ProviderName() string

	// ID of the user the credential belongs to, empty for application credentials
	OwnerID() string

	// Deep copy of the credential
	Clone() Credential
}

type OAuth2Credential struct {
	IdentityProvider string
	UserID           string
	AccessToken      string
	RefreshToken     string
	UserName         string

	// Zero value means the issue time is unknown and the token is treated as expired
	IssuedAt time.Time

	// Token lifetime in seconds (RFC 6749), nil means the token never expires
	ExpiresIn *int

	Scopes []string

	// Additional information stored along with the token
	Context map[string]any
}

type CredentialOption func(*OAuth2Credential)

func WithRefreshToken(token string) CredentialOption {
	return func(c *OAuth2Credential) {
		c.RefreshToken = token
	}
}

func WithUser(id string, name string) CredentialOption {
	return func(c *OAuth2Credential) {
		c.UserID = id
		c.UserName = name
	}
}

func WithIssuedAt(issuedAt time.Time) CredentialOption {
	return func(c *OAuth2Credential) {
		c.IssuedAt = issuedAt
	}
}

func WithExpiresIn(seconds int) CredentialOption {
	return func(c *OAuth2Credential) {
		c.ExpiresIn = &seconds
	}
}

func WithScopes(scopes ...string) CredentialOption {
	return func(c *OAuth2Credential) {
		c.Scopes = append([]string{}, scopes...)
	}
}

func WithContext(values map[string]any) CredentialOption {
	return func(c *OAuth2Credential) {
		c.Context = maps.Clone(values)
	}
}

// NewOAuth2Credential creates credential issued now
// The "oauth:" prefix is stripped from the access token
func NewOAuth2Credential(provider string, accessToken string, opts ...CredentialOption) *OAuth2Credential {
	c := &OAuth2Credential{
		IdentityProvider: provider,
		AccessToken:      accessToken,
		IssuedAt:         time.Now(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.normalize()
	return c
}

func (c *OAuth2Credential) normalize() {
	c.AccessToken = strings.TrimPrefix(c.AccessToken, accessTokenPrefix)
	if c.Scopes == nil {
		c.Scopes = []string{}
	}
	if c.Context == nil {
		c.Context = map[string]any{}
	}
}

func (c *OAuth2Credential) ProviderName() string {
	return c.IdentityProvider
}

func (c *OAuth2Credential) OwnerID() string {
	return c.UserID
}

func (c *OAuth2Credential) Clone() Credential {
	clone := *c
	clone.Scopes = slices.Clone(c.Scopes)
	clone.Context = maps.Clone(c.Context)
	if c.ExpiresIn != nil {
		expiresIn := *c.ExpiresIn
		clone.ExpiresIn = &expiresIn
	}
	return &clone
}

// Update copies every field set on the newer credential
// Empty scopes and context of the newer credential keep the current ones
func (c *OAuth2Credential) Update(newer *OAuth2Credential) {
	if newer.AccessToken != "" {
		c.AccessToken = newer.AccessToken
	}
	if newer.RefreshToken != "" {
		c.RefreshToken = newer.RefreshToken
	}
	if newer.ExpiresIn != nil {
		expiresIn := *newer.ExpiresIn
		c.ExpiresIn = &expiresIn
	}
	if newer.UserID != "" {
		c.UserID = newer.UserID
	}
	if newer.UserName != "" {
		c.UserName = newer.UserName
	}
	if len(newer.Scopes) > 0 {
		c.Scopes = slices.Clone(newer.Scopes)
	}
	if len(newer.Context) > 0 {
		c.Context = maps.Clone(newer.Context)
	}
	if !newer.IssuedAt.IsZero() {
		c.IssuedAt = newer.IssuedAt
	}
}

// ExpiresAt returns approximate time when the token is no longer valid
//   - unknown issue time: ExpiredAt
//   - unknown lifetime: NeverExpiresAt
func (c *OAuth2Credential) ExpiresAt() time.Time {
	switch {
	case c.IssuedAt.IsZero():
		return ExpiredAt
	case c.ExpiresIn == nil:
		return NeverExpiresAt
	default:
		return c.IssuedAt.Add(time.Duration(*c.ExpiresIn) * time.Second)
	}
}

func (c *OAuth2Credential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt())
}
