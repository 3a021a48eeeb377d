package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

func storagePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "credentials.json")
}

func TestFileStorage(t *testing.T) {
	t.Run("read write empty", func(t *testing.T) {
		path := storagePath(t)
		require.NoError(t, os.WriteFile(path, []byte{}, 0o600))

		s, err := NewStorage(path)
		require.NoError(t, err)

		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Empty(t, credentials)

		err = s.SaveCredentials(t.Context(), credentials)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "[]", string(content))

		_, err = s.GetCredentialByUserID(t.Context(), "")
		require.ErrorIs(t, err, apperrors.ErrCredentialNotFound)
	})

	t.Run("missing file", func(t *testing.T) {
		s, err := NewStorage(storagePath(t))
		require.NoError(t, err)

		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Empty(t, credentials)
	})

	t.Run("read write", func(t *testing.T) {
		path := storagePath(t)
		require.NoError(t, os.WriteFile(path, []byte(`[{"identity_provider":"test","access_token":"asdf"}]`), 0o600))

		s, err := NewStorage(path)
		require.NoError(t, err)

		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Len(t, credentials, 1)

		actual := credentials[0].(*models.OAuth2Credential)
		assert.Equal(t, "test", actual.IdentityProvider)
		assert.Equal(t, "asdf", actual.AccessToken)
		actual.IssuedAt = time.Time{}

		second := models.NewOAuth2Credential("test", "qwerty")
		second.IssuedAt = time.Time{}
		credentials = append(credentials, second)

		err = s.SaveCredentials(t.Context(), credentials)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t,
			`[{"identity_provider":"test","access_token":"asdf","scopes":[],"context":{}},{"identity_provider":"test","access_token":"qwerty","scopes":[],"context":{}}]`,
			string(content),
		)
	})

	t.Run("reopen", func(t *testing.T) {
		path := storagePath(t)
		s, err := NewStorage(path)
		require.NoError(t, err)
		c := models.NewOAuth2Credential("test", "token", models.WithUser("42", "tester"), models.WithExpiresIn(60))
		require.NoError(t, s.SaveCredentials(t.Context(), []models.Credential{c}))

		reopened, err := NewStorage(path)
		require.NoError(t, err)

		got, err := reopened.GetCredentialByUserID(t.Context(), "42")
		require.NoError(t, err)
		assert.Equal(t, "token", got.(*models.OAuth2Credential).AccessToken)
		assert.Equal(t, 60, *got.(*models.OAuth2Credential).ExpiresIn)
		assert.True(t, c.IssuedAt.Equal(got.(*models.OAuth2Credential).IssuedAt))
	})

	t.Run("invalid content", func(t *testing.T) {
		path := storagePath(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0o600))

		_, err := NewStorage(path)

		require.Error(t, err)
	})
}

func TestFileStorage_Encrypted(t *testing.T) {
	t.Run("content is encrypted", func(t *testing.T) {
		path := storagePath(t)
		s, err := NewStorage(path, WithSecretKey("secret"))
		require.NoError(t, err)

		err = s.SaveCredentials(t.Context(), []models.Credential{models.NewOAuth2Credential("test", "very-secret-token")})
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.True(t, isSealed(content))
		require.NotContains(t, string(content), "very-secret-token")

		reopened, err := NewStorage(path, WithSecretKey("secret"))
		require.NoError(t, err)
		credentials, err := reopened.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Len(t, credentials, 1)
		require.Equal(t, "very-secret-token", credentials[0].(*models.OAuth2Credential).AccessToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		path := storagePath(t)
		s, err := NewStorage(path, WithSecretKey("secret"))
		require.NoError(t, err)
		require.NoError(t, s.SaveCredentials(t.Context(), []models.Credential{}))

		_, err = NewStorage(path, WithSecretKey("other"))

		require.Error(t, err)
	})

	t.Run("no key", func(t *testing.T) {
		path := storagePath(t)
		s, err := NewStorage(path, WithSecretKey("secret"))
		require.NoError(t, err)
		require.NoError(t, s.SaveCredentials(t.Context(), []models.Credential{}))

		_, err = NewStorage(path)

		require.ErrorIs(t, err, errSealedWithoutKey)
	})

	t.Run("plain file is read with key", func(t *testing.T) {
		path := storagePath(t)
		require.NoError(t, os.WriteFile(path, []byte(`[{"identity_provider":"test","access_token":"asdf"}]`), 0o600))

		s, err := NewStorage(path, WithSecretKey("secret"))
		require.NoError(t, err)

		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Len(t, credentials, 1)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := NewStorage(storagePath(t), WithSecretKey(""))

		require.Error(t, err)
	})
}
