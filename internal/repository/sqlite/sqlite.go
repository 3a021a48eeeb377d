package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/repository"
)

const driverName = "sqlite3"

// Storage keeps every credential as JSON document in a single sqlite table
type Storage struct {
	db *sql.DB
}

var _ repository.Storage = (*Storage)(nil)

// NewStorage opens the database and creates schema if needed
// dsn is a go-sqlite3 data source: file path, "file:..." uri or ":memory:"
func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: avoids locking issues and keeps ":memory:" database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initSchema(ctx context.Context) error {
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS credentials (
		position INTEGER PRIMARY KEY,
		identity_provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		UNIQUE (identity_provider, access_token)
	);`
	if _, err := s.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id)`); err != nil {
		return fmt.Errorf("failed to create user_id index: %w", err)
	}

	return nil
}

func (s *Storage) LoadCredentials(ctx context.Context) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM credentials ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	credentials := []models.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return credentials, nil
}

// SaveCredentials replaces stored credentials in one transaction
// Every save writes through, so nil has nothing to flush
func (s *Storage) SaveCredentials(ctx context.Context, credentials []models.Credential) (err error) {
	if credentials == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}
	defer func() {
		switch err {
		case nil:
			err = tx.Commit()
		default:
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO credentials (position, identity_provider, access_token, user_id, data)
	VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer stmt.Close() // nolint:errcheck

	for i, credential := range credentials {
		c, ok := credential.(*models.OAuth2Credential)
		if !ok {
			return fmt.Errorf("%T: %w", credential, apperrors.ErrUnsupportedCredential)
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("can't encode credential: %w", err)
		}

		_, err = stmt.ExecContext(ctx, i, c.IdentityProvider, c.AccessToken, c.UserID, string(data))
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return apperrors.ErrCredentialDuplicate
			}
			return fmt.Errorf("db error: %w", err)
		}
	}

	return nil
}

func (s *Storage) GetCredentialByUserID(ctx context.Context, userID string) (models.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT data FROM credentials
	WHERE user_id = ? AND user_id <> ''
	ORDER BY position
	LIMIT 1
	`, userID)

	c, err := scanCredential(row)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, apperrors.ErrCredentialNotFound
	default:
		return nil, err
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.OAuth2Credential, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	var c models.OAuth2Credential
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("can't decode stored credential: %w", err)
	}

	return &c, nil
}
