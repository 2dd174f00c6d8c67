package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(uuid.NewString()))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("not-a-uuid"))
}

func TestValidateSessionName(t *testing.T) {
	assert.NoError(t, ValidateSessionName("orders"))
	assert.Error(t, ValidateSessionName(""))
	assert.Error(t, ValidateSessionName("   "))
	assert.Error(t, ValidateSessionName(strings.Repeat("x", 129)))
}

func TestValidateRecipient(t *testing.T) {
	valid := []string{
		"+6281234567890",
		"120363025246125486@g.us",
		"6281234567890-1630000000@g.us",
		"6281234567890@c.us",
		"6281234567890@s.whatsapp.net",
	}
	for _, to := range valid {
		assert.NoError(t, ValidateRecipient(to), to)
	}

	invalid := []string{
		"",
		"081234567890",
		"+0123",
		"abc@g.us",
		"6281234567890@x.us",
		"+628123456789012345678",
	}
	for _, to := range invalid {
		assert.Error(t, ValidateRecipient(to), to)
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hello"))
	assert.Error(t, ValidateContent(""))
	assert.Error(t, ValidateContent("   "))
}

func TestValidateContentCountsGraphemes(t *testing.T) {
	// A family emoji is many bytes but one grapheme cluster.
	emoji := "\U0001F468‍\U0001F469‍\U0001F467‍\U0001F466"
	assert.NoError(t, ValidateContent(strings.Repeat(emoji, MaxContentGraphemes)))
	assert.Error(t, ValidateContent(strings.Repeat(emoji, MaxContentGraphemes+1)))
}

func TestValidateMedia(t *testing.T) {
	assert.NoError(t, ValidateMedia("image/png", "aGVsbG8="))
	assert.NoError(t, ValidateMedia("application/pdf", "aGVsbG8="))

	assert.Error(t, ValidateMedia("", "aGVsbG8="))
	assert.Error(t, ValidateMedia("font/woff2", "aGVsbG8="))
	assert.Error(t, ValidateMedia("image/png", ""))
	assert.Error(t, ValidateMedia("image/png", "not base64!!"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/hook"))
	assert.NoError(t, ValidateURL("http://localhost:8080/hook"))

	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("not a url"))
}
