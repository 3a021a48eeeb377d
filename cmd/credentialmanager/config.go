package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/credentialmanager/internal/controller"
	"github.com/nkiryanov/credentialmanager/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultStorageDSN   = "memory://"
)

type Config struct {
	// Default logging level
	LogLevel string `validate:"oneof=debug info warn error"`

	// Environment
	Environment string `validate:"oneof=dev prod"`

	// Address on which the HTTP API will be run
	ListenAddr string `validate:"required,hostname_port"`

	// Where credentials are stored: memory://, file path, postgres://, sqlite://, gcpsecret://
	StorageDSN string `validate:"required"`

	// Secret key
	// Signs oauth2 state and encrypts file storage when set
	SecretKey string

	// Bearer token required by management endpoints
	AdminToken string

	// YAML file with identity providers
	ProvidersFile string

	// Redirect uri for the authorization code grant, provider's one is used when empty
	CallbackURL string `validate:"omitempty,url"`

	// Minimum period between refreshes of a credential
	RefreshMinInterval time.Duration `validate:"gte=0"`

	// Upper bound for device flow polling, zero means the server provided expiry
	DeviceMaxExpiresIn time.Duration `validate:"gte=0"`

	// Service account key for gcpsecret storage, application default credentials when empty
	GCPCredentialsFile string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		Environment:        defaultEnvironment,
		ListenAddr:         defaultListenAddr,
		StorageDSN:         defaultStorageDSN,
		RefreshMinInterval: controller.DefaultMinRefreshInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"LOG_LEVEL":             setString(&c.LogLevel),
		"ENVIRONMENT":           setString(&c.Environment),
		"RUN_ADDRESS":           setString(&c.ListenAddr),
		"STORAGE_DSN":           setString(&c.StorageDSN),
		"SECRET_KEY":            setString(&c.SecretKey),
		"ADMIN_TOKEN":           setString(&c.AdminToken),
		"PROVIDERS_FILE":        setString(&c.ProvidersFile),
		"CALLBACK_URL":          setString(&c.CallbackURL),
		"REFRESH_MIN_INTERVAL":  setDuration(&c.RefreshMinInterval),
		"DEVICE_MAX_EXPIRES_IN": setDuration(&c.DeviceMaxExpiresIn),
		"GCP_CREDENTIALS_FILE":  setString(&c.GCPCredentialsFile),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// BindFlags registers flags with current values as defaults, so flags override environment
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.StorageDSN, "storage", "d", c.StorageDSN, "Credential storage (memory://, file path, postgres://, sqlite://, gcpsecret://)")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.AdminToken, "admin-token", c.AdminToken, "Bearer token for management endpoints")
	fs.StringVarP(&c.ProvidersFile, "providers", "p", c.ProvidersFile, "Identity providers YAML file")
	fs.StringVar(&c.CallbackURL, "callback-url", c.CallbackURL, "Redirect uri for the authorization code grant")
	fs.DurationVar(&c.RefreshMinInterval, "refresh-min-interval", c.RefreshMinInterval, "Minimum period between credential refreshes")
	fs.DurationVar(&c.DeviceMaxExpiresIn, "device-max-expires-in", c.DeviceMaxExpiresIn, "Upper bound for device flow polling")
	fs.StringVar(&c.GCPCredentialsFile, "gcp-credentials", c.GCPCredentialsFile, "Google service account key file")
}

func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}
