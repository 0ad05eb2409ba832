// Package signature implements Standard Webhooks symmetric signing for
// outbound deliveries: whsec_ secrets and v1 HMAC-SHA256 signatures over
// {msgID}.{timestamp}.{payload}.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SecretPrefix marks whsec_-encoded symmetric secrets
	SecretPrefix = "whsec_"

	// Version is the signature scheme identifier
	Version = "v1"

	// SecretBytes is the size of generated secrets (256 bits)
	SecretBytes = 32

	// Outbound request headers per the Standard Webhooks convention
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// Secret is a symmetric signing secret.
type Secret struct {
	raw     []byte
	encoded string
}

// GenerateSecret creates a new cryptographically secure signing secret.
func GenerateSecret() (Secret, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:     raw,
		encoded: SecretPrefix + base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// ParseSecret parses a whsec_-prefixed base64 secret.
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}
	if len(raw) == 0 {
		return Secret{}, fmt.Errorf("secret is empty")
	}

	return Secret{raw: raw, encoded: encoded}, nil
}

// String returns the encoded secret with the whsec_ prefix.
func (s Secret) String() string {
	return s.encoded
}

// Sign computes the v1 signature for a delivery. The signed content is
// {msgID}.{timestamp}.{payload}, returned as "v1,<base64>".
func Sign(secret Secret, msgID string, timestamp time.Time, payload []byte) (string, error) {
	if msgID == "" {
		return "", fmt.Errorf("message id is required")
	}
	if strings.Contains(msgID, ".") {
		return "", fmt.Errorf("message id must not contain '.'")
	}

	mac := hmac.New(sha256.New, secret.raw)
	fmt.Fprintf(mac, "%s.%d.%s", msgID, timestamp.Unix(), payload)

	return Version + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a "v1,<base64>" signature in constant time.
func Verify(secret Secret, msgID string, timestamp time.Time, payload []byte, signature string) (bool, error) {
	version, encoded, ok := strings.Cut(signature, ",")
	if !ok {
		return false, fmt.Errorf("invalid signature format, expected 'version,signature'")
	}
	if version != Version {
		return false, fmt.Errorf("unsupported signature version: %s", version)
	}

	expected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}

	calculated, err := Sign(secret, msgID, timestamp, payload)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(calculated, Version+","))

	return subtle.ConstantTimeCompare(expected, raw) == 1, nil
}

// SetHeaders signs the payload and sets the three outbound delivery
// headers on the request.
func SetHeaders(h http.Header, secret Secret, msgID string, timestamp time.Time, payload []byte) error {
	sig, err := Sign(secret, msgID, timestamp, payload)
	if err != nil {
		return err
	}

	h.Set(HeaderID, msgID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestamp.Unix(), 10))
	h.Set(HeaderSignature, sig)
	return nil
}
