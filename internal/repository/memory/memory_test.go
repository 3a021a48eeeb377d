package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

func TestMemoryStorage(t *testing.T) {
	t.Run("empty on start", func(t *testing.T) {
		s := NewStorage()

		credentials, err := s.LoadCredentials(t.Context())

		require.NoError(t, err)
		require.NotNil(t, credentials)
		require.Empty(t, credentials)
	})

	t.Run("save and load", func(t *testing.T) {
		s := NewStorage()
		c := models.NewOAuth2Credential("test", "token", models.WithUser("42", "tester"))

		err := s.SaveCredentials(t.Context(), []models.Credential{c})
		require.NoError(t, err)

		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Equal(t, []models.Credential{c}, credentials)
	})

	t.Run("save nil keeps credentials", func(t *testing.T) {
		s := NewStorage()
		c := models.NewOAuth2Credential("test", "token")
		require.NoError(t, s.SaveCredentials(t.Context(), []models.Credential{c}))

		err := s.SaveCredentials(t.Context(), nil)

		require.NoError(t, err)
		credentials, err := s.LoadCredentials(t.Context())
		require.NoError(t, err)
		require.Len(t, credentials, 1)
	})

	t.Run("get by user id", func(t *testing.T) {
		s := NewStorage()
		app := models.NewOAuth2Credential("test", "app-token")
		user := models.NewOAuth2Credential("test", "user-token", models.WithUser("User42", "tester"))
		require.NoError(t, s.SaveCredentials(t.Context(), []models.Credential{app, user}))

		got, err := s.GetCredentialByUserID(t.Context(), "user42")
		require.NoError(t, err)
		require.Equal(t, user, got)

		_, err = s.GetCredentialByUserID(t.Context(), "unknown")
		require.ErrorIs(t, err, apperrors.ErrCredentialNotFound)

		_, err = s.GetCredentialByUserID(t.Context(), "")
		require.ErrorIs(t, err, apperrors.ErrCredentialNotFound, "application credentials have no user")
	})
}
