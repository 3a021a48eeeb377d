package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/apperrors"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

// RFC 8628 section 3.5: polling interval grows by 5 seconds on slow_down
const slowDownIncrease = 5

// Servers may send zero interval, polling still waits between requests
const minPollInterval = 1

type DeviceFlowConfig struct {
	// Upper bound for polling counted from the device authorization, zero means server expiry only
	MaxExpiresIn time.Duration

	Logger logger.Logger
}

// DeviceFlow polls token endpoint in background until user approves the device or the code expires
type DeviceFlow struct {
	maxExpiresIn time.Duration
	logger       logger.Logger

	// Interval unit, device authorization interval is in seconds
	unit time.Duration

	mu      sync.Mutex
	manager Manager
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Controller = (*DeviceFlow)(nil)

func NewDeviceFlow(cfg DeviceFlowConfig) *DeviceFlow {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceFlow{
		maxExpiresIn: cfg.MaxExpiresIn,
		logger:       cfg.Logger,
		unit:         time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (d *DeviceFlow) SetCredentialManager(m Manager) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manager = m
}

func (d *DeviceFlow) credentialManager() Manager {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manager
}

func (d *DeviceFlow) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DeviceFlow) StartAuthorizationCodeGrant(context.Context, identityprovider.OAuth2IdentityProvider, string, []string) error {
	return apperrors.ErrAuthCodeUnsupported
}

func (d *DeviceFlow) StartDeviceAuthorizationGrant(ctx context.Context, p identityprovider.OAuth2IdentityProvider, scopes []string, callback func(*models.DeviceTokenResponse)) (*models.DeviceAuthorization, error) {
	if d.isClosed() {
		return nil, apperrors.ErrControllerClosed
	}

	auth, err := p.CreateDeviceFlowRequest(ctx, scopes)
	if err != nil {
		return nil, err
	}

	expiry := auth.ExpiresAt()
	if d.maxExpiresIn > 0 {
		if limit := auth.IssuedAt.Add(d.maxExpiresIn); limit.Before(expiry) {
			expiry = limit
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, apperrors.ErrControllerClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.poll(p, auth, expiry, callback)
	}()

	d.logger.Info("Device flow started", "provider", p.Name(), "user_code", auth.UserCode, "expires_at", expiry)
	return auth, nil
}

func (d *DeviceFlow) poll(p identityprovider.OAuth2IdentityProvider, auth *models.DeviceAuthorization, expiry time.Time, callback func(*models.DeviceTokenResponse)) {
	log := d.logger.With("provider", p.Name(), "user_code", auth.UserCode)
	interval := max(auth.Interval, minPollInterval)

	for {
		select {
		case <-d.ctx.Done():
			log.Info("Cancelling device flow since controller was closed")
			callback(nil)
			return
		case <-time.After(time.Duration(interval) * d.unit):
		}

		if time.Now().After(expiry) {
			log.Info("Device code expired")
			callback(&models.DeviceTokenResponse{Error: models.DeviceExpiredToken})
			return
		}

		resp, err := p.DeviceAccessToken(d.ctx, auth.DeviceCode)
		if err != nil {
			if d.ctx.Err() != nil {
				continue
			}
			log.Warn("Failed to check device access token, will retry", "error", err)

			// RFC 8628 section 3.5: back off on connection failures
			var reqErr *identityprovider.RequestError
			if errors.As(err, &reqErr) && reqErr.Transport() {
				if interval <= 30 {
					interval *= 2
				} else {
					interval += 10
				}
			}
			continue
		}

		if resp.Credential != nil || !resp.Error.ShouldRetry() {
			if resp.Credential != nil {
				if m := d.credentialManager(); m != nil {
					if err := m.AddCredential(d.ctx, p.Name(), resp.Credential); err != nil {
						log.Error("Failed to add device flow credential", "error", err)
					}
				}
			}

			callback(resp)
			return
		}

		log.Debug("Device access token is not ready, will retry", "error", resp.Error)
		if resp.Error == models.DeviceSlowDown {
			interval += slowDownIncrease
		}
	}
}

func (d *DeviceFlow) RegisterCredential(_ context.Context, c models.Credential) {
	d.logger.Debug("Credential registered", "provider", c.ProviderName(), "user_id", c.OwnerID())
}

// Close stops pending flows, their callbacks get nil response
func (d *DeviceFlow) Close() error {
	d.mu.Lock()
	d.closed = true
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
