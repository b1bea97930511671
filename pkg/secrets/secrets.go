package secrets

import (
	"context"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Well known secret keys. Each falls back to the upper snake case
// environment variable of the same name (jwt-secret -> JWT_SECRET).
const (
	KeyJWTSecret  = "jwt-secret"
	KeyDBPassword = "db-password"
)
