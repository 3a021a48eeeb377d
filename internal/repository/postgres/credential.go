package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

const credentialColumns = `identity_provider, user_id, user_name, access_token, refresh_token, issued_at, expires_in, scopes, context`

const listCredentials = `-- name: ListCredentials
SELECT ` + credentialColumns + `
FROM credentials
ORDER BY position
`

func (s *Storage) LoadCredentials(ctx context.Context) ([]models.Credential, error) {
	rows, _ := s.db.Query(ctx, listCredentials)
	list, err := pgx.CollectRows(rows, rowToCredential)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	credentials := make([]models.Credential, 0, len(list))
	for _, c := range list {
		credentials = append(credentials, c)
	}

	return credentials, nil
}

const deleteCredentials = `-- name: DeleteCredentials
DELETE FROM credentials
`

const insertCredential = `-- name: InsertCredential
INSERT INTO credentials (id, position, ` + credentialColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// SaveCredentials replaces stored credentials in one transaction
// Every save writes through, so nil has nothing to flush
func (s *Storage) SaveCredentials(ctx context.Context, credentials []models.Credential) error {
	if credentials == nil {
		return nil
	}

	list := make([]*models.OAuth2Credential, 0, len(credentials))
	for _, credential := range credentials {
		c, ok := credential.(*models.OAuth2Credential)
		if !ok {
			return fmt.Errorf("%T: %w", credential, apperrors.ErrUnsupportedCredential)
		}
		list = append(list, c)
	}

	return s.InTx(ctx, func(tx *Storage) error {
		if _, err := tx.db.Exec(ctx, deleteCredentials); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		batch := &pgx.Batch{}
		for i, c := range list {
			batch.Queue(insertCredential,
				uuid.New(), i,
				c.IdentityProvider, c.UserID, c.UserName, c.AccessToken, c.RefreshToken,
				c.IssuedAt, c.ExpiresIn, nonNilScopes(c.Scopes), nonNilContext(c.Context),
			)
		}

		err := tx.db.SendBatch(ctx, batch).Close()
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return apperrors.ErrCredentialDuplicate
			}
			return fmt.Errorf("db error: %w", err)
		}

		return nil
	})
}

const getCredentialByUserID = `-- name: GetCredentialByUserID
SELECT ` + credentialColumns + `
FROM credentials
WHERE user_id = $1 AND user_id <> ''
ORDER BY position
LIMIT 1
`

func (s *Storage) GetCredentialByUserID(ctx context.Context, userID string) (models.Credential, error) {
	rows, _ := s.db.Query(ctx, getCredentialByUserID, userID)
	credential, err := pgx.CollectOneRow(rows, rowToCredential)

	switch {
	case err == nil:
		return credential, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperrors.ErrCredentialNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

func rowToCredential(row pgx.CollectableRow) (*models.OAuth2Credential, error) {
	var c models.OAuth2Credential
	err := row.Scan(
		&c.IdentityProvider,
		&c.UserID,
		&c.UserName,
		&c.AccessToken,
		&c.RefreshToken,
		&c.IssuedAt,
		&c.ExpiresIn,
		&c.Scopes,
		&c.Context,
	)
	c.Scopes = nonNilScopes(c.Scopes)
	c.Context = nonNilContext(c.Context)
	return &c, err
}

func nonNilScopes(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}

func nonNilContext(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}
