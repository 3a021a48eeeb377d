package identityprovider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Token endpoint response (RFC 6749, section 5.1)
// expires_in and scope come in different shapes depending on provider
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
	Scope        json.RawMessage `json:"scope"`
}

func (p *OAuth2Provider) parseToken(body []byte) (*models.OAuth2Credential, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	expiresIn, err := parseExpiresIn(resp.ExpiresIn)
	if err != nil {
		return nil, err
	}

	credential := models.NewOAuth2Credential(p.cfg.Name, resp.AccessToken,
		models.WithRefreshToken(resp.RefreshToken),
		models.WithScopes(parseScopes(resp.Scope)...),
	)
	credential.ExpiresIn = expiresIn

	return credential, nil
}

// parseExpiresIn accepts integer or numeric string, the latter is not RFC compliant but seen in the wild
// Missing or null value means the token lifetime is unknown
func parseExpiresIn(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		return &number, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("unsupported expires_in value: %s", raw)
	}

	number, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("invalid expires_in string value: %q", text)
	}

	return &number, nil
}

// parseScopes accepts space separated string (RFC) or array of strings (twitch)
func parseScopes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.Fields(text)
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}

	scopes := make([]string, 0, len(list))
	for _, item := range list {
		if scope, ok := item.(string); ok {
			scopes = append(scopes, scope)
		}
	}

	return scopes
}
