package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
)

func TestOAuth2Credential_New(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewOAuth2Credential("twitch", "token")

		require.Equal(t, "twitch", c.ProviderName())
		require.Equal(t, "token", c.AccessToken)
		require.Empty(t, c.OwnerID())
		require.NotNil(t, c.Scopes, "scopes should never be nil")
		require.NotNil(t, c.Context, "context should never be nil")
		require.Nil(t, c.ExpiresIn)
		require.WithinDuration(t, time.Now(), c.IssuedAt, time.Second)
	})

	t.Run("strip oauth prefix", func(t *testing.T) {
		c := NewOAuth2Credential("twitch", "oauth:token")

		require.Equal(t, "token", c.AccessToken)
	})

	t.Run("options", func(t *testing.T) {
		issuedAt := time.Unix(1743465600, 0)
		c := NewOAuth2Credential("twitch", "token",
			WithRefreshToken("refresh"),
			WithUser("42", "tester"),
			WithIssuedAt(issuedAt),
			WithExpiresIn(3600),
			WithScopes("chat:read", "chat:edit"),
			WithContext(map[string]any{"client_id": "abc"}),
		)

		require.Equal(t, "refresh", c.RefreshToken)
		require.Equal(t, "42", c.UserID)
		require.Equal(t, "tester", c.UserName)
		require.Equal(t, issuedAt, c.IssuedAt)
		require.Equal(t, 3600, *c.ExpiresIn)
		require.Equal(t, []string{"chat:read", "chat:edit"}, c.Scopes)
		require.Equal(t, "abc", c.Context["client_id"])
	})
}

func TestOAuth2Credential_Update(t *testing.T) {
	t.Run("values are updated", func(t *testing.T) {
		original := NewOAuth2Credential("test", "original-token",
			WithRefreshToken("original-refresh"), WithUser("userId", "userName"), WithExpiresIn(3600))
		updated := NewOAuth2Credential("test", "updated-token",
			WithRefreshToken("updated-refresh"), WithUser("userId2", "userName2"),
			WithIssuedAt(time.Unix(1743465600, 0)), WithExpiresIn(7200))

		original.Update(updated)

		assert.Equal(t, "updated-token", original.AccessToken)
		assert.Equal(t, "updated-refresh", original.RefreshToken)
		assert.Equal(t, "userId2", original.UserID)
		assert.Equal(t, "userName2", original.UserName)
		assert.Equal(t, time.Unix(1743465600, 0), original.IssuedAt)
		assert.Equal(t, 7200, *original.ExpiresIn)
	})

	t.Run("empty values are kept", func(t *testing.T) {
		original := NewOAuth2Credential("test", "token",
			WithRefreshToken("refresh"), WithScopes("a"), WithContext(map[string]any{"k": "v"}), WithExpiresIn(60))
		issuedAt := original.IssuedAt

		original.Update(&OAuth2Credential{})

		assert.Equal(t, "token", original.AccessToken)
		assert.Equal(t, "refresh", original.RefreshToken)
		assert.Equal(t, []string{"a"}, original.Scopes)
		assert.Equal(t, map[string]any{"k": "v"}, original.Context)
		assert.Equal(t, 60, *original.ExpiresIn)
		assert.Equal(t, issuedAt, original.IssuedAt)
	})

	t.Run("updated credential is not shared", func(t *testing.T) {
		original := NewOAuth2Credential("test", "token")
		updated := NewOAuth2Credential("test", "token", WithScopes("a"), WithExpiresIn(60))

		original.Update(updated)
		updated.Scopes[0] = "b"
		*updated.ExpiresIn = 10

		assert.Equal(t, []string{"a"}, original.Scopes)
		assert.Equal(t, 60, *original.ExpiresIn)
	})
}

func TestOAuth2Credential_IsExpired(t *testing.T) {
	expiresIn := func(v int) *int { return &v }

	tests := []struct {
		name      string
		issuedAt  time.Time
		expiresIn *int
		expired   bool
	}{
		{"issued at unknown", time.Time{}, expiresIn(3600), true},
		{"expires in unknown", time.Now().Add(-10_000 * time.Second), nil, false},
		{"still valid", time.Now().Add(-time.Minute), expiresIn(3600), false},
		{"expired", time.Now().Add(-2 * time.Hour), expiresIn(3600), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOAuth2Credential("test", "token")
			c.IssuedAt = tt.issuedAt
			c.ExpiresIn = tt.expiresIn

			require.Equal(t, tt.expired, c.IsExpired())
		})
	}

	t.Run("expires at", func(t *testing.T) {
		c := NewOAuth2Credential("test", "token", WithIssuedAt(time.Unix(1000, 0)), WithExpiresIn(60))
		require.Equal(t, time.Unix(1060, 0), c.ExpiresAt())

		c.ExpiresIn = nil
		require.Equal(t, NeverExpiresAt, c.ExpiresAt())

		c.IssuedAt = time.Time{}
		require.Equal(t, ExpiredAt, c.ExpiresAt())
	})
}

func TestOAuth2Credential_Clone(t *testing.T) {
	c := NewOAuth2Credential("test", "token", WithScopes("a"), WithContext(map[string]any{"k": "v"}), WithExpiresIn(60))

	clone := c.Clone().(*OAuth2Credential)
	clone.Scopes[0] = "b"
	clone.Context["k"] = "changed"
	*clone.ExpiresIn = 1

	require.Equal(t, []string{"a"}, c.Scopes)
	require.Equal(t, "v", c.Context["k"])
	require.Equal(t, 60, *c.ExpiresIn)
}

func TestOAuth2Credential_JSON(t *testing.T) {
	t.Run("marshal minimal", func(t *testing.T) {
		c := NewOAuth2Credential("test", "asdf")
		c.IssuedAt = time.Time{}

		data, err := json.Marshal(c)

		require.NoError(t, err)
		require.JSONEq(t, `{"identity_provider":"test","access_token":"asdf","scopes":[],"context":{}}`, string(data))
	})

	t.Run("marshal full", func(t *testing.T) {
		c := NewOAuth2Credential("test", "asdf",
			WithRefreshToken("refresh"),
			WithUser("1", "one"),
			WithIssuedAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)),
			WithExpiresIn(3600),
			WithScopes("a", "b"),
		)

		data, err := json.Marshal(c)

		require.NoError(t, err)
		require.JSONEq(t, `{
			"identity_provider": "test",
			"user_id": "1",
			"access_token": "asdf",
			"refresh_token": "refresh",
			"user_name": "one",
			"issued_at": "2025-04-01T00:00:00Z",
			"expires_in": 3600,
			"scopes": ["a", "b"],
			"context": {}
		}`, string(data))
	})

	t.Run("unmarshal applies defaults", func(t *testing.T) {
		var c OAuth2Credential

		err := json.Unmarshal([]byte(`{"identity_provider":"test","access_token":"oauth:asdf","unknown":1}`), &c)

		require.NoError(t, err)
		require.Equal(t, "asdf", c.AccessToken)
		require.NotNil(t, c.Scopes)
		require.NotNil(t, c.Context)
		require.WithinDuration(t, time.Now(), c.IssuedAt, time.Second)
	})

	t.Run("unmarshal issued at", func(t *testing.T) {
		var c OAuth2Credential

		err := json.Unmarshal([]byte(`{"identity_provider":"test","access_token":"a","issued_at":"2025-04-01T00:00:00Z","expires_in":10}`), &c)

		require.NoError(t, err)
		require.True(t, c.IssuedAt.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
		require.Equal(t, 10, *c.ExpiresIn)
	})
}

type otherCredential struct{}

func (otherCredential) ProviderName() string { return "other" }
func (otherCredential) OwnerID() string      { return "" }
func (otherCredential) Clone() Credential    { return otherCredential{} }

func TestCredentials_MarshalUnmarshal(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		data, err := MarshalCredentials(nil)

		require.NoError(t, err)
		require.Equal(t, "[]", string(data))
	})

	t.Run("empty input", func(t *testing.T) {
		credentials, err := UnmarshalCredentials([]byte("  \n"))

		require.NoError(t, err)
		require.Empty(t, credentials)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := UnmarshalCredentials([]byte("{"))

		require.Error(t, err)
	})

	t.Run("unsupported credential", func(t *testing.T) {
		_, err := MarshalCredentials([]Credential{otherCredential{}})

		require.ErrorIs(t, err, apperrors.ErrUnsupportedCredential)
	})

	t.Run("read write", func(t *testing.T) {
		credentials, err := UnmarshalCredentials([]byte(`[{"identity_provider":"test","access_token":"asdf"}]`))
		require.NoError(t, err)
		require.Len(t, credentials, 1)

		actual := credentials[0].(*OAuth2Credential)
		require.Equal(t, "test", actual.IdentityProvider)
		require.Equal(t, "asdf", actual.AccessToken)

		actual.IssuedAt = time.Time{}
		second := NewOAuth2Credential("test", "qwerty")
		second.IssuedAt = time.Time{}
		credentials = append(credentials, second)

		data, err := MarshalCredentials(credentials)
		require.NoError(t, err)
		require.Equal(t,
			`[{"identity_provider":"test","access_token":"asdf","scopes":[],"context":{}},{"identity_provider":"test","access_token":"qwerty","scopes":[],"context":{}}]`,
			string(data),
		)
	})
}
