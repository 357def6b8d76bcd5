package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func signStripePayload(payload []byte, secret string, t time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", t.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test"
	now := time.Now()

	header := signStripePayload(payload, secret, now)
	if err := VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now); err != nil {
		t.Fatalf("expected signature to validate, got %v", err)
	}

	if err := VerifyStripeSignature(payload, header, "whsec_other", DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}

	tampered := append([]byte(nil), payload...)
	tampered[0] = ' '
	if err := VerifyStripeSignature(tampered, header, secret, DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered payload, got %v", err)
	}
}

func TestVerifyStripeSignature_MultipleV1(t *testing.T) {
	payload := []byte(`{"id":"evt_2"}`)
	secret := "whsec_test"
	now := time.Now()

	valid := signStripePayload(payload, secret, now)
	// Secret rotation: an old signature precedes the valid one.
	header := fmt.Sprintf("t=%d,v1=deadbeef,%s", now.Unix(), valid[len(fmt.Sprintf("t=%d,", now.Unix())):])
	if err := VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now); err != nil {
		t.Fatalf("expected one of multiple v1 signatures to validate, got %v", err)
	}
}

func TestVerifyStripeSignature_Stale(t *testing.T) {
	payload := []byte(`{"id":"evt_3"}`)
	secret := "whsec_test"
	now := time.Now()

	header := signStripePayload(payload, secret, now.Add(-10*time.Minute))
	if err := VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}

	// Within tolerance passes.
	header = signStripePayload(payload, secret, now.Add(-2*time.Minute))
	if err := VerifyStripeSignature(payload, header, secret, DefaultSignatureTolerance, now); err != nil {
		t.Fatalf("expected signature within tolerance to validate, got %v", err)
	}
}

func TestVerifyStripeSignature_MissingParts(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()

	if err := VerifyStripeSignature(payload, "", "whsec_test", DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for empty header, got %v", err)
	}
	if err := VerifyStripeSignature(payload, "v1=abcdef", "whsec_test", DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for header without timestamp, got %v", err)
	}
	if err := VerifyStripeSignature(payload, fmt.Sprintf("t=%d", now.Unix()), "whsec_test", DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for header without v1, got %v", err)
	}
	header := signStripePayload(payload, "whsec_test", now)
	if err := VerifyStripeSignature(payload, header, "", DefaultSignatureTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for empty secret, got %v", err)
	}
}
