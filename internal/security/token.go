package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewSessionToken returns an opaque 256-bit token for the client. Only the
// peppered hash is ever persisted.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSessionToken derives the storage form of a session token. The pepper is
// a server-side secret, so a leaked sessions table alone cannot be replayed.
func HashSessionToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewLicenseKey returns a key in the form LLK-XXXXX-XXXXX-XXXXX-XXXXX drawn
// from crypto/rand, with a uuid tail folded in so two keys generated in the
// same nanosecond on different hosts still differ.
func NewLicenseKey() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	tail := sha256.Sum256([]byte(uuid.NewString()))
	var b strings.Builder
	b.WriteString("LLK")
	for i, c := range raw {
		if i%5 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(c^tail[i%len(tail)])%len(alphabet)])
	}
	return b.String(), nil
}
