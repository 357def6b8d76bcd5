package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds the accepted clock skew between the
// timestamp in the Stripe-Signature header and our own clock.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrStaleEvent       = errors.New("webhook timestamp outside tolerance")
)

// VerifyStripeSignature validates a Stripe-Signature header against the raw
// request body. The header carries comma-separated pairs: a unix timestamp
// under "t" and one or more HMAC-SHA256 signatures under "v1", computed over
// "<t>.<body>". Verification is pure: no side effects, rejected payloads are
// never stored.
func VerifyStripeSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) error {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return ErrInvalidSignature
	}

	var timestamp int64 = -1
	var candidates [][]byte
	for _, pair := range strings.Split(sig, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = parsed
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			candidates = append(candidates, decoded)
		}
	}
	if timestamp < 0 || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(timestamp, 0))
		if skew > tolerance || skew < -tolerance {
			return ErrStaleEvent
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrInvalidSignature
}
