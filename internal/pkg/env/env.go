package env

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/stripesync to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			// Successfully loaded env file
			return
		}
	}

	// If we get here, no env file was found
	panic("No .env file found in any of the expected locations")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

const (
	secretFileMaxAttempts = 30
	secretFileRetryDelay  = 2 * time.Second
)

// WebhookSecret resolves the Stripe webhook signing secret. It prefers
// STRIPE_WEBHOOK_SECRET directly; if unset and STRIPE_WEBHOOK_SECRET_FILE is
// configured, it polls for the file (a sibling container writes it during
// dev bootstrap). The poll is bounded: after the attempts are exhausted a
// configuration error is returned and the process must not serve webhooks.
func WebhookSecret() (string, error) {
	return webhookSecret(secretFileMaxAttempts, secretFileRetryDelay)
}

func webhookSecret(attempts int, delay time.Duration) (string, error) {
	if secret := strings.TrimSpace(GetEnv("STRIPE_WEBHOOK_SECRET", "")); secret != "" {
		return secret, nil
	}

	path := strings.TrimSpace(GetEnv("STRIPE_WEBHOOK_SECRET_FILE", ""))
	if path == "" {
		return "", fmt.Errorf("neither STRIPE_WEBHOOK_SECRET nor STRIPE_WEBHOOK_SECRET_FILE is configured")
	}

	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(path)
		if err == nil {
			if secret := strings.TrimSpace(string(data)); secret != "" {
				return secret, nil
			}
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return "", fmt.Errorf("webhook secret file %s did not appear after %d attempts", path, attempts)
}
