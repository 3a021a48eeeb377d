package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

const DefaultMinRefreshInterval = time.Hour

type RefreshingConfig struct {
	// Controller that handles authorization flows, Dummy by default
	Delegate Controller

	// Lower bound for the period between refreshes of a single credential
	MinInterval time.Duration

	Logger logger.Logger
}

// Refreshing decorates another controller and keeps registered OAuth2 credentials fresh
// Use it together with persistent storage, refreshed tokens are saved after every refresh
type Refreshing struct {
	delegate    Controller
	minInterval time.Duration
	logger      logger.Logger

	mu      sync.Mutex
	manager Manager
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Controller = (*Refreshing)(nil)

func NewRefreshing(cfg RefreshingConfig) *Refreshing {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Delegate == nil {
		cfg.Delegate = NewDummy(cfg.Logger)
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinRefreshInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Refreshing{
		delegate:    cfg.Delegate,
		minInterval: cfg.MinInterval,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (r *Refreshing) SetCredentialManager(m Manager) {
	r.mu.Lock()
	r.manager = m
	r.mu.Unlock()

	r.delegate.SetCredentialManager(m)
}

func (r *Refreshing) credentialManager() Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manager
}

func (r *Refreshing) StartAuthorizationCodeGrant(ctx context.Context, p identityprovider.OAuth2IdentityProvider, redirectURL string, scopes []string) error {
	return r.delegate.StartAuthorizationCodeGrant(ctx, p, redirectURL, scopes)
}

func (r *Refreshing) StartDeviceAuthorizationGrant(ctx context.Context, p identityprovider.OAuth2IdentityProvider, scopes []string, callback func(*models.DeviceTokenResponse)) (*models.DeviceAuthorization, error) {
	return r.delegate.StartDeviceAuthorizationGrant(ctx, p, scopes, callback)
}

func (r *Refreshing) RegisterCredential(ctx context.Context, c models.Credential) {
	r.delegate.RegisterCredential(ctx, c)

	if _, ok := c.(*models.OAuth2Credential); !ok {
		return
	}

	m := r.credentialManager()
	if m == nil {
		return
	}
	snapshot, err := m.Snapshot(c)
	if err != nil {
		r.logger.Warn("Registered credential is not stored", "error", err)
		return
	}

	if snapshot.(*models.OAuth2Credential).ExpiresIn != nil {
		r.schedule(c, snapshot.(*models.OAuth2Credential))
		return
	}

	// Lifetime is unknown: ask provider about the token or get a new one, then schedule
	r.goBackground(func(ctx context.Context) {
		if err := r.initialize(ctx, c); err != nil {
			r.logger.Warn("Credential will not be refreshed", "provider", c.ProviderName(), "error", err)
			return
		}

		snapshot, err := m.Snapshot(c)
		if err != nil {
			return
		}
		r.schedule(c, snapshot.(*models.OAuth2Credential))
	})
}

func (r *Refreshing) initialize(ctx context.Context, c models.Credential) error {
	m := r.credentialManager()
	snapshot, err := m.Snapshot(c)
	if err != nil {
		return err
	}
	credential := snapshot.(*models.OAuth2Credential)

	p, err := m.OAuth2ProviderByName(credential.IdentityProvider)
	if err != nil {
		return err
	}

	enriched, err := p.AdditionalCredentialInformation(ctx, credential)
	if err != nil {
		r.logger.Warn("Failed to get additional credential information", "provider", credential.IdentityProvider, "error", err)
	}
	if err == nil && enriched != nil {
		return m.UpdateCredential(c, enriched)
	}

	return r.refresh(ctx, c)
}

// schedule refreshes credential at 3/4 of remaining lifetime, then every max(lifetime, minimum interval)
func (r *Refreshing) schedule(c models.Credential, snapshot *models.OAuth2Credential) {
	if snapshot.ExpiresIn == nil || *snapshot.ExpiresIn <= 0 {
		return
	}

	remaining := max(time.Until(snapshot.ExpiresAt()), 0)
	initialDelay := remaining * 3 / 4
	interval := max(r.minInterval, remaining)

	r.logger.Debug("Credential refresh scheduled",
		"provider", snapshot.IdentityProvider,
		"user_id", snapshot.UserID,
		"initial_delay", initialDelay,
		"interval", interval,
	)

	r.goBackground(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialDelay):
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			err := r.refresh(ctx, c)
			switch {
			case errors.Is(err, apperrors.ErrCredentialNotFound):
				r.logger.Debug("Credential removed, refresh stopped", "provider", c.ProviderName())
				return
			case err != nil && ctx.Err() == nil:
				r.logger.Warn("Could not refresh credential, it may be revoked", "provider", c.ProviderName(), "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// Refresh gets new token for the stored credential and updates it in the manager
// User credentials use the refresh token, application ones (no user id) get new client credentials token
func Refresh(ctx context.Context, m Manager, c models.Credential) error {
	snapshot, err := m.Snapshot(c)
	if err != nil {
		return err
	}
	credential, ok := snapshot.(*models.OAuth2Credential)
	if !ok {
		return apperrors.ErrUnsupportedCredential
	}

	p, err := m.OAuth2ProviderByName(credential.IdentityProvider)
	if err != nil {
		return err
	}

	var newer *models.OAuth2Credential
	switch {
	case credential.RefreshToken != "":
		newer, err = p.RefreshCredential(ctx, credential)
	case credential.UserID == "":
		newer, err = p.AppAccessToken(ctx, strings.Join(credential.Scopes, " "))
	default:
		return fmt.Errorf("credential of user %s: %w", credential.UserID, apperrors.ErrNoRefreshToken)
	}
	if err != nil {
		return err
	}

	return m.UpdateCredential(c, newer)
}

// refresh persists refreshed credential
func (r *Refreshing) refresh(ctx context.Context, c models.Credential) error {
	m := r.credentialManager()
	if err := Refresh(ctx, m, c); err != nil {
		return err
	}

	if err := m.Save(ctx); err != nil {
		r.logger.Error("Failed to save refreshed credential", "error", err)
	}

	r.logger.Info("Credential refreshed", "provider", c.ProviderName())
	return nil
}

func (r *Refreshing) goBackground(fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Close stops scheduled refreshes and closes the delegate
func (r *Refreshing) Close() error {
	r.mu.Lock()
	r.closed = true
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	return r.delegate.Close()
}
