package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	saved := Env
	Env = values
	t.Cleanup(func() { Env = saved })
}

func TestGetEnv(t *testing.T) {
	withEnv(t, map[string]string{"APP_ENV": "dev"})

	if got := GetEnv("APP_ENV", "prod"); got != "dev" {
		t.Fatalf("expected loaded value, got %q", got)
	}
	if got := GetEnv("DOES_NOT_EXIST", "fallback"); got != "fallback" {
		t.Fatalf("expected default, got %q", got)
	}
	if !IsDev() {
		t.Fatalf("expected dev mode")
	}
}

func TestWebhookSecretFromEnv(t *testing.T) {
	withEnv(t, map[string]string{"STRIPE_WEBHOOK_SECRET": "  whsec_direct  "})

	secret, err := webhookSecret(1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "whsec_direct" {
		t.Fatalf("expected trimmed secret, got %q", secret)
	}
}

func TestWebhookSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook_secret")
	if err := os.WriteFile(path, []byte("whsec_file\n"), 0o600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}
	withEnv(t, map[string]string{"STRIPE_WEBHOOK_SECRET_FILE": path})

	secret, err := webhookSecret(1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "whsec_file" {
		t.Fatalf("expected file secret, got %q", secret)
	}
}

func TestWebhookSecretFileAppearsLate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook_secret")
	withEnv(t, map[string]string{"STRIPE_WEBHOOK_SECRET_FILE": path})

	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(path, []byte("whsec_late"), 0o600)
	}()

	secret, err := webhookSecret(20, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "whsec_late" {
		t.Fatalf("expected late secret, got %q", secret)
	}
}

func TestWebhookSecretBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never_written")
	withEnv(t, map[string]string{"STRIPE_WEBHOOK_SECRET_FILE": path})

	if _, err := webhookSecret(3, time.Millisecond); err == nil {
		t.Fatalf("expected bounded poll to fail")
	}
}

func TestWebhookSecretUnconfigured(t *testing.T) {
	withEnv(t, map[string]string{})

	if _, err := webhookSecret(1, 0); err == nil {
		t.Fatalf("expected error when no secret source is configured")
	}
}
