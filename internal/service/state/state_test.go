package state

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
)

func Test_StateManager(t *testing.T) {
	t.Parallel()

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "state manager should be created without errors")

		require.Equal(t, []byte("secret"), m.key, "secret key should be set")
		require.Equal(t, defaultTTL, m.ttl, "default ttl should be set")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new errors", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err, "empty secret must fail")

		_, err = New(Config{SecretKey: "secret", Alg: "nope"})
		require.Error(t, err, "unknown algorithm must fail")
	})

	t.Run("issue and parse", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)

		state, err := m.Issue("twitch", "http://localhost:8080/api/oauth2/callback")
		require.NoError(t, err)

		claims, err := m.Parse(state)
		require.NoError(t, err)
		assert.Equal(t, "twitch", claims.Provider)
		assert.Equal(t, "http://localhost:8080/api/oauth2/callback", claims.RedirectURL)
		assert.NotEmpty(t, claims.ID)
		assert.WithinDuration(t, time.Now().Add(defaultTTL), claims.ExpiresAt.Time, 2*time.Second)
	})

	t.Run("states are unique", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)

		first, err := m.Issue("twitch", "")
		require.NoError(t, err)
		second, err := m.Issue("twitch", "")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("expired", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret", TTL: -time.Minute})
		require.NoError(t, err)

		state, err := m.Issue("twitch", "")
		require.NoError(t, err)

		_, err = m.Parse(state)
		require.ErrorIs(t, err, apperrors.ErrStateExpired)
	})

	t.Run("signed with other key", func(t *testing.T) {
		issuer, err := New(Config{SecretKey: "other"})
		require.NoError(t, err)
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)

		state, err := issuer.Issue("twitch", "")
		require.NoError(t, err)

		_, err = m.Parse(state)
		require.ErrorIs(t, err, apperrors.ErrStateInvalid)
	})

	t.Run("without provider", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)
		state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = m.Parse(state)
		require.ErrorIs(t, err, apperrors.ErrStateInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)

		_, err = m.Parse("twitch|5f0c7a0e")
		require.ErrorIs(t, err, apperrors.ErrStateInvalid)
	})
}
