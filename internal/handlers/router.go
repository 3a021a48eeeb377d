package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/credentialmanager/internal/controller"
	"github.com/nkiryanov/credentialmanager/internal/handlers/middleware"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
	"github.com/nkiryanov/credentialmanager/internal/service/state"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Query parameter with admin token for the authorize route
const AdminTokenParam = "admin_token"

type RouterConfig struct {
	// Bearer token required by management endpoints, empty disables the check
	AdminToken string

	// Redirect uri sent to providers in the authorization code grant
	// Provider configured redirect uri is used when empty
	CallbackURL string
}

func NewRouter(
	cfg RouterConfig,
	manager credentialManager,
	states stateManager,
	logger logger.Logger,
) http.Handler {
	withAdmin := middleware.AdminTokenMiddleware(cfg.AdminToken)
	withAdminQuery := middleware.AdminTokenMiddleware(cfg.AdminToken, middleware.WithQueryToken(AdminTokenParam))

	credentials := NewCredential(manager, logger)
	providers := NewProvider(manager, logger)
	oauth2 := NewOAuth2(manager, states, cfg.CallbackURL, logger)

	api := http.NewServeMux()
	api.Handle("GET /providers", withAdmin(http.HandlerFunc(providers.list)))
	api.Handle("POST /providers/{name}/device", withAdmin(http.HandlerFunc(providers.device)))
	api.Handle("POST /providers/{name}/app-token", withAdmin(http.HandlerFunc(providers.appToken)))

	api.Handle("GET /credentials", withAdmin(http.HandlerFunc(credentials.list)))
	api.Handle("GET /credentials/{userID}", withAdmin(http.HandlerFunc(credentials.byUserID)))
	api.Handle("POST /credentials", withAdmin(http.HandlerFunc(credentials.add)))
	api.Handle("POST /credentials/save", withAdmin(http.HandlerFunc(credentials.save)))

	// Browser facing: authorize takes admin token from the query too
	// Provider redirects back without admin token, signed state protects the callback
	api.Handle("GET /providers/{name}/authorize", withAdminQuery(http.HandlerFunc(oauth2.authorize)))
	api.HandleFunc("GET /oauth2/callback", oauth2.callback)

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type credentialManager interface {
	IdentityProviders() []identityprovider.IdentityProvider

	// Has to return apperrors.ErrProviderNotFound if there is no such oauth2 provider
	OAuth2ProviderByName(name string) (identityprovider.OAuth2IdentityProvider, error)

	Credentials() []models.Credential

	// Has to return apperrors.ErrCredentialNotFound if user has no credential
	OAuth2CredentialByUserID(userID string) (*models.OAuth2Credential, error)

	AddCredential(ctx context.Context, providerName string, c models.Credential) error
	Snapshot(c models.Credential) (models.Credential, error)
	Save(ctx context.Context) error

	Controller() controller.Controller
}

type stateManager interface {
	Issue(provider string, redirectURL string) (string, error)

	// Has to return apperrors.ErrStateInvalid or apperrors.ErrStateExpired for bad states
	Parse(state string) (*state.Claims, error)
}
