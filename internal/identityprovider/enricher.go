package identityprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

const defaultKeySetTTL = time.Hour

type JWTClaimsConfig struct {
	// Key set used to verify access token signature. Claims are read unverified when empty
	JWKSURL   string
	KeySetTTL time.Duration

	HTTPClient *http.Client
	Logger     logger.Logger
}

// JWTClaimsEnricher reads user and lifetime from access tokens that are JWTs
type JWTClaimsEnricher struct {
	cfg    JWTClaimsConfig
	parser *jwt.Parser

	mu        sync.Mutex
	keys      jwk.Set
	fetchedAt time.Time
}

func NewJWTClaimsEnricher(cfg JWTClaimsConfig) *JWTClaimsEnricher {
	if cfg.KeySetTTL == 0 {
		cfg.KeySetTTL = defaultKeySetTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &JWTClaimsEnricher{cfg: cfg, parser: jwt.NewParser()}
}

// Enrich returns nil when token is not a JWT or carries nothing new
func (e *JWTClaimsEnricher) Enrich(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	if strings.Count(c.AccessToken, ".") != 2 {
		return nil, nil
	}

	if e.cfg.JWKSURL != "" {
		keys, err := e.keySet(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := jws.Verify([]byte(c.AccessToken), jws.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true))); err != nil {
			return nil, fmt.Errorf("access token signature is not valid: %w", err)
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := e.parser.ParseUnverified(c.AccessToken, claims); err != nil {
		e.cfg.Logger.Debug("Access token is not a JWT", "error", err)
		return nil, nil
	}

	enriched := c.Clone().(*models.OAuth2Credential)
	changed := false

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		enriched.UserID = sub
		changed = true
	}
	if name := firstString(claims, "preferred_username", "name"); name != "" {
		enriched.UserName = name
		changed = true
	}

	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	if exp != nil {
		if iat != nil {
			enriched.IssuedAt = iat.Time
		}
		expiresIn := int(exp.Sub(enriched.IssuedAt).Seconds())
		enriched.ExpiresIn = &expiresIn
		changed = true
	}

	if scopes := claimScopes(claims); len(scopes) > 0 {
		enriched.Scopes = scopes
		changed = true
	}

	if !changed {
		return nil, nil
	}
	return enriched, nil
}

func (e *JWTClaimsEnricher) keySet(ctx context.Context) (jwk.Set, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.keys != nil && time.Since(e.fetchedAt) < e.cfg.KeySetTTL {
		return e.keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: "jwks", URL: e.cfg.JWKSURL, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil || !isSuccess(resp.StatusCode) {
		return nil, &RequestError{Op: "jwks", URL: e.cfg.JWKSURL, Status: resp.StatusCode, Body: string(body), Err: err}
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}

	e.keys = keys
	e.fetchedAt = time.Now()
	e.cfg.Logger.Debug("Key set fetched", "url", e.cfg.JWKSURL, "keys", keys.Len())

	return keys, nil
}

// "scope" is space separated (RFC 8693), "scp" is string or list depending on issuer
func claimScopes(claims jwt.MapClaims) []string {
	for _, key := range []string{"scope", "scp"} {
		switch v := claims[key].(type) {
		case string:
			return strings.Fields(v)
		case []any:
			scopes := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					scopes = append(scopes, s)
				}
			}
			return scopes
		}
	}
	return nil
}

func firstString(values map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := values[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

type UserInfoConfig struct {
	URL string

	// Authorization header scheme, "Bearer" by default. Twitch validate endpoint wants "OAuth"
	Scheme string

	HTTPClient *http.Client
	Logger     logger.Logger
}

// UserInfoEnricher asks OIDC userinfo (or token validation) endpoint about the token owner
type UserInfoEnricher struct {
	cfg UserInfoConfig
}

func NewUserInfoEnricher(cfg UserInfoConfig) *UserInfoEnricher {
	if cfg.Scheme == "" {
		cfg.Scheme = "Bearer"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &UserInfoEnricher{cfg: cfg}
}

// Enrich returns nil when endpoint rejects the token
func (e *UserInfoEnricher) Enrich(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", e.cfg.Scheme+" "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: "userinfo", URL: e.cfg.URL, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	switch {
	case err != nil:
		return nil, &RequestError{Op: "userinfo", URL: e.cfg.URL, Status: resp.StatusCode, Err: err}
	case resp.StatusCode == http.StatusUnauthorized:
		e.cfg.Logger.Debug("Userinfo endpoint rejected the token")
		return nil, nil
	case !isSuccess(resp.StatusCode):
		return nil, &RequestError{Op: "userinfo", URL: e.cfg.URL, Status: resp.StatusCode, Body: string(body)}
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &RequestError{Op: "userinfo", URL: e.cfg.URL, Status: resp.StatusCode, Body: string(body), Err: err}
	}

	enriched := c.Clone().(*models.OAuth2Credential)
	if id := stringValue(info["sub"]); id != "" {
		enriched.UserID = id
	} else if id := stringValue(info["user_id"]); id != "" {
		enriched.UserID = id
	}
	if name := firstString(info, "preferred_username", "name", "login"); name != "" {
		enriched.UserName = name
	}
	if scopes, ok := info["scopes"].([]any); ok {
		enriched.Scopes = []string{}
		for _, item := range scopes {
			if s, ok := item.(string); ok {
				enriched.Scopes = append(enriched.Scopes, s)
			}
		}
	}
	if expiresIn, ok := info["expires_in"].(float64); ok {
		seconds := int(expiresIn)
		enriched.IssuedAt = time.Now()
		enriched.ExpiresIn = &seconds
	}

	return enriched, nil
}

// Subjects are strings per OIDC, some providers return numbers
func stringValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
