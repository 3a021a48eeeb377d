package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
)

const (
	defaultTTL           = 10 * time.Minute
	defaultSigningMethod = "HS256"
)

// Claims carried by the OAuth2 state parameter between authorize redirect and callback
type Claims struct {
	jwt.RegisteredClaims
	Provider    string `json:"idp"`
	RedirectURL string `json:"redirect_uri,omitempty"`
}

// State manager with sensible defaults
type Config struct {
	// Secret key to sign state
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// State lifetime, if not set than default is used
	TTL time.Duration
}

// Manager issues and checks signed OAuth2 state values, so callback needs no server side session
type Manager struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}

	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	return &Manager{
		key: []byte(cfg.SecretKey),
		alg: alg,
		ttl: cfg.TTL,
	}, nil
}

// Issue returns state for authorization request to the provider
func (m *Manager) Issue(provider string, redirectURL string) (string, error) {
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Provider:    provider,
		RedirectURL: redirectURL,
	})

	state, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("error while signing state. Err: %w", err)
	}
	return state, nil
}

// Parse validates state returned to the callback
func (m *Manager) Parse(state string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(*jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("error while parsing state. Err: %w", apperrors.ErrStateExpired)
	case err != nil:
		return nil, fmt.Errorf("error while parsing state. Err: %w: %w", apperrors.ErrStateInvalid, err)
	case claims.Provider == "":
		return nil, fmt.Errorf("state has no provider. Err: %w", apperrors.ErrStateInvalid)
	}

	return claims, nil
}
