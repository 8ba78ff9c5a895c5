package auth

import (
	"errors"
	"fmt"
	"log/slog"
)

// MinSecretLength is the minimum accepted JWT secret length
const MinSecretLength = 32

// Known weak/default secrets that should never be used in production
var knownWeakSecrets = []string{
	"sen-alerte-local-jwt-secret-not-for-production",
	"changeme",
	"secret",
	"password",
	"test",
	"dev",
	"development",
}

// ValidateSecret validates the JWT secret meets security requirements.
// isDev indicates if the server is running in development mode.
func ValidateSecret(secret string, isDev bool) error {
	if secret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	// Weak secrets are checked before length so dev mode can accept them with a warning
	for _, weak := range knownWeakSecrets {
		if secret == weak {
			if isDev {
				slog.Warn("using default JWT secret, not for production use", "prefix", secret[:min(8, len(secret))])
				return nil
			}
			return fmt.Errorf("default/weak JWT secret not allowed in production environment")
		}
	}

	if len(secret) < MinSecretLength {
		return fmt.Errorf("JWT secret must be at least %d characters (got %d)", MinSecretLength, len(secret))
	}

	return nil
}
