package identityprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// Token endpoint post types
const (
	PostTypeQuery = "QUERY"
	PostTypeBody  = "BODY"
)

const (
	defaultScopeSeparator = " "
	defaultResponseType   = "code"
	defaultTimeout        = 10 * time.Second

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// Provider responses larger than that are not tokens
	maxResponseSize = 1 << 20
)

type Config struct {
	Name         string `yaml:"name" validate:"required"`
	Type         string `yaml:"type"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url" validate:"omitempty,url"`
	TokenURL     string `yaml:"token_url" validate:"required,url"`
	DeviceURL    string `yaml:"device_url" validate:"omitempty,url"`
	RedirectURL  string `yaml:"redirect_url" validate:"omitempty,url"`

	// QUERY (default) or BODY
	TokenEndpointPostType string `yaml:"token_endpoint_post_type"`
	ScopeSeparator        string `yaml:"scope_separator"`
	ResponseType          string `yaml:"response_type"`

	// Proxy in host:port form, *_PROXY environment is used when empty
	ProxyURL string        `yaml:"proxy_url"`
	Timeout  time.Duration `yaml:"timeout"`

	// Dump provider HTTP traffic to debug log
	Debug bool `yaml:"debug"`

	// Enrichers created from configuration, see JWTClaimsEnricher and UserInfoEnricher
	JWTClaims   bool   `yaml:"jwt_claims"`
	JWKSURL     string `yaml:"jwks_url" validate:"omitempty,url"`
	UserInfoURL string `yaml:"userinfo_url" validate:"omitempty,url"`

	HTTPClient *http.Client  `yaml:"-"`
	Logger     logger.Logger `yaml:"-"`
	Enrichers  []Enricher    `yaml:"-"`
}

// OAuth2Provider talks to OAuth2 authorization server endpoints
type OAuth2Provider struct {
	cfg       Config
	client    *http.Client
	logger    logger.Logger
	enrichers []Enricher
}

var _ OAuth2IdentityProvider = (*OAuth2Provider)(nil)

func NewOAuth2Provider(cfg Config) (*OAuth2Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("identity provider name is required")
	}
	if cfg.Type == "" {
		cfg.Type = TypeOAuth2
	}
	if cfg.TokenEndpointPostType == "" {
		cfg.TokenEndpointPostType = PostTypeQuery
	}
	if cfg.ScopeSeparator == "" {
		cfg.ScopeSeparator = defaultScopeSeparator
	}
	if cfg.ResponseType == "" {
		cfg.ResponseType = defaultResponseType
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	p := &OAuth2Provider{
		cfg:    cfg,
		logger: cfg.Logger.With("provider", cfg.Name),
	}

	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}
	p.client = client

	p.enrichers = append(p.enrichers, cfg.Enrichers...)
	if cfg.JWTClaims || cfg.JWKSURL != "" {
		p.enrichers = append(p.enrichers, NewJWTClaimsEnricher(JWTClaimsConfig{
			JWKSURL:    cfg.JWKSURL,
			HTTPClient: client,
			Logger:     p.logger,
		}))
	}
	if cfg.UserInfoURL != "" {
		p.enrichers = append(p.enrichers, NewUserInfoEnricher(UserInfoConfig{
			URL:        cfg.UserInfoURL,
			HTTPClient: client,
			Logger:     p.logger,
		}))
	}

	return p, nil
}

func (p *OAuth2Provider) httpClient() (*http.Client, error) {
	if p.cfg.HTTPClient != nil {
		return p.cfg.HTTPClient, nil
	}

	var (
		proxy *url.URL
		err   error
	)
	if p.cfg.ProxyURL != "" {
		proxy, err = parseProxy(p.cfg.ProxyURL)
	} else {
		proxy, err = ProxyFromEnvironment(os.Getenv)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s proxy: %w", p.cfg.Name, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}

	var rt http.RoundTripper = transport
	if p.cfg.Debug {
		rt = &debugTransport{next: transport, logger: p.logger}
	}

	return &http.Client{Transport: rt}, nil
}

func (p *OAuth2Provider) Name() string {
	return p.cfg.Name
}

func (p *OAuth2Provider) Type() string {
	return p.cfg.Type
}

func (p *OAuth2Provider) ClientID() string {
	return p.cfg.ClientID
}

func (p *OAuth2Provider) RedirectURL() string {
	return p.cfg.RedirectURL
}

func (p *OAuth2Provider) SupportsDeviceFlow() bool {
	return p.cfg.DeviceURL != ""
}

func (p *OAuth2Provider) AuthenticationURL(scopes []string, state string) string {
	return p.AuthenticationURLWithRedirect(p.cfg.RedirectURL, scopes, state)
}

// AuthenticationURLWithRedirect builds authorization endpoint url
// Empty state is replaced by "<provider>|<random uuid>"
func (p *OAuth2Provider) AuthenticationURLWithRedirect(redirectURL string, scopes []string, state string) string {
	if state == "" {
		state = p.cfg.Name + "|" + uuid.NewString()
	}

	return fmt.Sprintf("%s?response_type=%s&client_id=%s&redirect_uri=%s&scope=%s&state=%s",
		p.cfg.AuthURL,
		url.QueryEscape(p.cfg.ResponseType),
		url.QueryEscape(p.cfg.ClientID),
		url.QueryEscape(redirectURL),
		url.QueryEscape(strings.Join(scopes, p.cfg.ScopeSeparator)),
		url.QueryEscape(state),
	)
}

// CreateDeviceFlowRequest starts device authorization grant (RFC 8628, section 3.1)
func (p *OAuth2Provider) CreateDeviceFlowRequest(ctx context.Context, scopes []string) (*models.DeviceAuthorization, error) {
	if p.cfg.DeviceURL == "" {
		return nil, fmt.Errorf("provider %s: %w", p.cfg.Name, apperrors.ErrDeviceURLMissing)
	}

	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	req, err := newFormRequest(ctx, p.cfg.DeviceURL, form)
	if err != nil {
		return nil, err
	}

	body, status, err := p.do(req, "device authorization")
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &RequestError{Op: "device authorization", URL: p.cfg.DeviceURL, Status: status, Body: string(body)}
	}

	var auth models.DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, &RequestError{Op: "device authorization", URL: p.cfg.DeviceURL, Status: status, Body: string(body), Err: err}
	}

	return &auth, nil
}

// DeviceAccessToken polls token endpoint once (RFC 8628, section 3.4)
// Pending authorization and other RFC errors are returned as response error, not as error
func (p *OAuth2Provider) DeviceAccessToken(ctx context.Context, deviceCode string) (*models.DeviceTokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", deviceCodeGrantType)
	form.Set("device_code", deviceCode)
	form.Set("client_id", p.cfg.ClientID)

	req, err := newFormRequest(ctx, p.cfg.TokenURL, form)
	if err != nil {
		return nil, err
	}

	body, status, err := p.do(req, "device token")
	if err != nil {
		return nil, err
	}

	if isSuccess(status) {
		credential, err := p.parseToken(body)
		if err != nil {
			return nil, &RequestError{Op: "device token", URL: p.cfg.TokenURL, Status: status, Body: string(body), Err: err}
		}
		credential.Context["client_id"] = p.cfg.ClientID
		return &models.DeviceTokenResponse{Credential: credential}, nil
	}

	code, ok := deviceErrorCode(body)
	if !ok {
		return nil, &RequestError{Op: "device token", URL: p.cfg.TokenURL, Status: status, Body: string(body)}
	}

	return &models.DeviceTokenResponse{Error: models.ParseDeviceFlowError(code)}, nil
}

// RFC names the field "error", some servers (twitch) use "message"
func deviceErrorCode(body []byte) (string, bool) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}

	value, found := fields["error"]
	if !found {
		value = fields["message"]
	}

	code, ok := value.(string)
	return code, ok
}

// CredentialByCode exchanges authorization code using configured redirect url
func (p *OAuth2Provider) CredentialByCode(ctx context.Context, code string) (*models.OAuth2Credential, error) {
	return p.CredentialByCodeWithRedirect(ctx, code, p.cfg.RedirectURL)
}

func (p *OAuth2Provider) CredentialByCodeWithRedirect(ctx context.Context, code string, redirectURL string) (*models.OAuth2Credential, error) {
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("client_secret", p.cfg.ClientSecret)
	params.Set("grant_type", "authorization_code")
	params.Set("code", code)
	params.Set("redirect_uri", redirectURL)

	return p.requestToken(ctx, "authorization code", params, nil)
}

// CredentialByPassword uses resource owner password grant with HTTP Basic client authentication
func (p *OAuth2Provider) CredentialByPassword(ctx context.Context, username string, password string, scope string) (*models.OAuth2Credential, error) {
	params := url.Values{}
	params.Set("grant_type", "password")
	params.Set("username", username)
	params.Set("password", password)
	if strings.TrimSpace(scope) != "" {
		params.Set("scope", scope)
	}

	return p.requestToken(ctx, "password", params, func(req *http.Request) {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	})
}

// RefreshCredential returns new credential, the passed one is not modified
func (p *OAuth2Provider) RefreshCredential(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	if c.RefreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", c.RefreshToken)
	if p.cfg.ClientSecret != "" {
		params.Set("client_secret", p.cfg.ClientSecret) // public clients (device flow) have none
	}

	return p.requestToken(ctx, "refresh token", params, nil)
}

// AppAccessToken uses client credentials grant for server-to-server tokens
func (p *OAuth2Provider) AppAccessToken(ctx context.Context, scope string) (*models.OAuth2Credential, error) {
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("client_secret", p.cfg.ClientSecret)
	params.Set("grant_type", "client_credentials")
	if strings.TrimSpace(scope) != "" {
		params.Set("scope", scope)
	}

	credential, err := p.requestToken(ctx, "client credentials", params, nil)
	if err != nil {
		return nil, err
	}
	if len(credential.Scopes) == 0 {
		credential.Scopes = strings.Fields(scope)
	}

	return credential, nil
}

func (p *OAuth2Provider) AdditionalCredentialInformation(ctx context.Context, c *models.OAuth2Credential) (*models.OAuth2Credential, error) {
	var errs []error
	for _, enricher := range p.enrichers {
		enriched, err := enricher.Enrich(ctx, c)
		if err != nil {
			p.logger.Warn("Failed to get additional credential information", "error", err)
			errs = append(errs, err)
			continue
		}
		if enriched != nil {
			return enriched, nil
		}
	}

	return nil, errors.Join(errs...)
}

func (p *OAuth2Provider) IsValid(c models.Credential) bool {
	credential, ok := c.(*models.OAuth2Credential)
	if !ok || credential.IssuedAt.IsZero() || credential.ExpiresIn == nil {
		return false
	}

	return credential.ExpiresAt().After(time.Now())
}

// Renew refreshes credential and updates it in place
// Callers sharing credential between goroutines must hold their own lock
func (p *OAuth2Provider) Renew(ctx context.Context, c models.Credential) (bool, error) {
	credential, ok := c.(*models.OAuth2Credential)
	if !ok {
		return false, nil
	}

	refreshed, err := p.RefreshCredential(ctx, credential)
	if err != nil {
		return false, err
	}

	credential.Update(refreshed)
	return true, nil
}

func (p *OAuth2Provider) requestToken(ctx context.Context, op string, params url.Values, prepare func(*http.Request)) (*models.OAuth2Credential, error) {
	req, err := p.tokenRequest(ctx, params)
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		prepare(req)
	}

	body, status, err := p.do(req, op)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		p.logger.Warn("Token request failed", "grant", op, "status_code", status)
		return nil, &RequestError{Op: op, URL: p.cfg.TokenURL, Status: status, Body: string(body)}
	}

	credential, err := p.parseToken(body)
	if err != nil {
		return nil, &RequestError{Op: op, URL: p.cfg.TokenURL, Status: status, Body: string(body), Err: err}
	}

	return credential, nil
}

// tokenRequest builds token endpoint request according to configured post type
func (p *OAuth2Provider) tokenRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	switch strings.ToUpper(p.cfg.TokenEndpointPostType) {
	case PostTypeQuery:
		u, err := url.Parse(p.cfg.TokenURL)
		if err != nil {
			return nil, fmt.Errorf("invalid token url: %w", err)
		}
		query := u.Query()
		for key, values := range params {
			query[key] = values
		}
		u.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil

	case PostTypeBody:
		return newFormRequest(ctx, p.cfg.TokenURL, params)

	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedPostType, p.cfg.TokenEndpointPostType)
	}
}

func newFormRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends request and reads whole response body
// Failure to get any response is reported as RequestError without status
func (p *OAuth2Provider) do(req *http.Request, op string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(req.Context(), p.cfg.Timeout)
	defer cancel()

	endpoint := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, 0, &RequestError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, &RequestError{Op: op, URL: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return body, resp.StatusCode, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
