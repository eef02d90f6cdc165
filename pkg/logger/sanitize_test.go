package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "a@*******.com", SanitizedEmail("a@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.False(t, SanitizeQueryString(""))
	assert.False(t, SanitizeQueryString("limit=10&offset=20"))
	assert.True(t, SanitizeQueryString("token=abc123"))
	assert.True(t, SanitizeQueryString("fingerprint=deadbeef"))
	assert.True(t, SanitizeQueryString("OTP=123456"))
}

func TestRedactedAttr(t *testing.T) {
	attr := RedactedAttr("code", "482913", "production")
	assert.Equal(t, "[REDACTED]", attr.Value.String())

	attr = RedactedAttr("code", "482913", "development")
	assert.Equal(t, "482913", attr.Value.String())
}
