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
	// SecretPrefix marks a Standard Webhooks symmetric secret
	SecretPrefix = "whsec_"

	Version = "v1"

	MinSecretBytes = 24
	MaxSecretBytes = 64
)

// Header names added to signed deliveries
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// Secret is a parsed signing secret
type Secret struct {
	raw     []byte
	encoded string
}

// GenerateSecret creates a random secret of size bytes
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}
	return Secret{raw: raw, encoded: SecretPrefix + base64.StdEncoding.EncodeToString(raw)}, nil
}

// ParseSecret parses a whsec_ prefixed base64 secret
func ParseSecret(encoded string) (Secret, error) {
	b64, ok := strings.CutPrefix(encoded, SecretPrefix)
	if !ok {
		return Secret{}, fmt.Errorf("secret must start with %s", SecretPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}
	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}
	return Secret{raw: raw, encoded: encoded}, nil
}

func (s Secret) String() string {
	return s.encoded
}

/* Sign computes the v1 signature of a message
 * The signed content is {msgID}.{unix timestamp}.{body}
 */
func Sign(secret Secret, msgID string, at time.Time, body []byte) (string, error) {
	if strings.Contains(msgID, ".") {
		return "", fmt.Errorf("message id must not contain '.'")
	}
	mac := hmac.New(sha256.New, secret.raw)
	mac.Write([]byte(msgID))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(at.Unix(), 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return Version + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Apply sets the three Standard Webhooks headers on h
func Apply(h http.Header, secret Secret, msgID string, at time.Time, body []byte) error {
	sig, err := Sign(secret, msgID, at, body)
	if err != nil {
		return err
	}
	h.Set(HeaderID, msgID)
	h.Set(HeaderTimestamp, strconv.FormatInt(at.Unix(), 10))
	h.Set(HeaderSignature, sig)
	return nil
}

// Verify checks a space separated signature header against the secret
func Verify(secret Secret, msgID string, at time.Time, body []byte, header string) (bool, error) {
	expected, err := Sign(secret, msgID, at, body)
	if err != nil {
		return false, err
	}
	_, want, _ := strings.Cut(expected, ",")
	wantRaw, err := base64.StdEncoding.DecodeString(want)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}

	for _, candidate := range strings.Fields(header) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != Version {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(got, wantRaw) == 1 {
			return true, nil
		}
	}
	return false, nil
}
