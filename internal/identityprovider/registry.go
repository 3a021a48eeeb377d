package identityprovider

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nkiryanov/credentialmanager/internal/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type registryFile struct {
	Providers []Config `yaml:"providers"`
}

// LoadProviders reads providers registry file
// ${VAR} references are expanded from environment, so secrets may stay out of the file
func LoadProviders(path string, log logger.Logger) ([]*OAuth2Provider, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read providers file: %w", err)
	}

	return ParseProviders(content, os.Getenv, log)
}

// ParseProviders decodes providers registry:
//
//	providers:
//	  - name: twitch
//	    client_id: ${TWITCH_CLIENT_ID}
//	    token_url: https://id.twitch.tv/oauth2/token
func ParseProviders(content []byte, getenv func(string) string, log logger.Logger) ([]*OAuth2Provider, error) {
	expanded := os.Expand(string(content), getenv)

	var file registryFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("can't decode providers file: %w", err)
	}

	providers := make([]*OAuth2Provider, 0, len(file.Providers))
	seen := make(map[string]bool, len(file.Providers))
	for i, cfg := range file.Providers {
		if err := validate.Struct(cfg); err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i+1, err)
		}
		name := strings.ToLower(cfg.Name)
		if seen[name] {
			return nil, fmt.Errorf("provider %s declared twice", cfg.Name)
		}
		seen[name] = true

		cfg.Logger = log
		p, err := NewOAuth2Provider(cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return providers, nil
}
