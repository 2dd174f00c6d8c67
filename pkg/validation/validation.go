package validation

import (
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rivo/uniseg"
)

const MaxContentGraphemes = 4096

var (
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	groupPattern   = regexp.MustCompile(`^\d+(-\d+)?@g\.us$`)
	contactPattern = regexp.MustCompile(`^\d+@(c\.us|s\.whatsapp\.net)$`)
)

// ValidateSessionID ensures the identifier is a canonical UUID.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("session id must be a valid UUID")
	}
	return nil
}

// ValidateSessionName ensures a usable session name.
func ValidateSessionName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("session name cannot be empty")
	}
	if len(trimmed) > 128 {
		return errors.New("session name must be at most 128 characters")
	}
	return nil
}

// ValidateRecipient accepts E.164 phone numbers, group addresses and
// contact addresses.
func ValidateRecipient(to string) error {
	trimmed := strings.TrimSpace(to)
	if trimmed == "" {
		return errors.New("recipient is required")
	}
	if e164Pattern.MatchString(trimmed) ||
		groupPattern.MatchString(trimmed) ||
		contactPattern.MatchString(trimmed) {
		return nil
	}
	return errors.New("recipient must be E.164 (+123...), a group address (...@g.us) or a contact address")
}

// ValidateContent bounds message text by grapheme clusters, not bytes,
// so emoji and combining sequences count as one character.
func ValidateContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text cannot be empty")
	}
	if uniseg.GraphemeClusterCount(text) > MaxContentGraphemes {
		return errors.New("message text exceeds maximum length")
	}
	return nil
}

// ValidateMedia checks the base64 payload and mime type of an outbound
// media attachment.
func ValidateMedia(mimeType, data string) error {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if mimeType == "" {
		return errors.New("media mimetype is required")
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasPrefix(mimeType, "video/"),
		strings.HasPrefix(mimeType, "audio/"),
		strings.HasPrefix(mimeType, "application/"),
		strings.HasPrefix(mimeType, "text/"):
	default:
		return errors.New("media mimetype is not supported")
	}
	if strings.TrimSpace(data) == "" {
		return errors.New("media data is required")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return errors.New("media data must be valid base64")
	}
	return nil
}

// ValidateURL ensures a non-empty valid URL when provided.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("url must be a valid http(s) URL")
	}
	return nil
}
