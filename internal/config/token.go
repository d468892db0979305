package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	secretService   = "karmgyan"
	apiTokenAccount = "api_token"
)

// EnsureAPIToken returns cfg.APIToken, generating and persisting a new one in
// the secret store when none is configured.
func EnsureAPIToken(cfg *Config) (string, error) {
	return ensureAPIToken(cfg, platformSecrets{})
}

func ensureAPIToken(cfg *Config, secrets secretStore) (string, error) {
	if cfg.APIToken != "" {
		return cfg.APIToken, nil
	}
	tok := newToken()
	if err := secrets.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	cfg.APIToken = tok
	return tok, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
