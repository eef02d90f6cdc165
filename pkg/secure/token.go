// Package secure provides token generation and hashing primitives for the
// session subsystem. Raw session tokens and verification codes are never
// persisted; only their hashes are.
package secure

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenBytes is the entropy of an opaque session token (256 bits).
	TokenBytes = 32

	// CodeHashCost is the bcrypt cost for verification codes. Codes are
	// short-lived and checked rarely, so a moderate cost is enough.
	CodeHashCost = 10
)

// GenerateToken returns a new opaque session token: 256 bits of entropy,
// base64url without padding.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenHasher derives stable lookup hashes from opaque tokens using
// HMAC-SHA256 with a server-side secret, so a leaked database cannot be used
// to forge valid tokens.
type TokenHasher struct {
	secret []byte
}

// NewTokenHasher creates a TokenHasher with the given secret
func NewTokenHasher(secret string) *TokenHasher {
	return &TokenHasher{secret: []byte(secret)}
}

// Hash returns the hex-encoded HMAC-SHA256 of the token.
func (h *TokenHasher) Hash(token string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Compare reports whether the token hashes to the expected value in
// constant time.
func (h *TokenHasher) Compare(token, expectedHash string) bool {
	computed := h.Hash(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedHash)) == 1
}

// HashCode hashes a verification code for at-rest storage.
func HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), CodeHashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hash), nil
}

// CheckCode verifies a code against its stored hash.
func CheckCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// GenerateOTPSecret returns a base32-encoded secret for HOTP code
// generation. 20 bytes encode without padding, which keeps the secret
// compatible with every HOTP consumer.
func GenerateOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate otp secret: %w", err)
	}
	return base32.StdEncoding.EncodeToString(buf), nil
}
