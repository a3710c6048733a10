package http

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Request limits
const (
	MaxURLLength    = 8 * 1024
	MaxScriptLength = 256 * 1024
)

// validateURL accepts empty, about:blank and absolute http(s) URLs
func validateURL(raw string) error {
	if raw == "" || raw == "about:blank" {
		return nil
	}
	if err := validateString(raw, "url", MaxURLLength); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url is malformed: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func validateScript(src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("script is required")
	}
	return validateString(src, "script", MaxScriptLength)
}

// validateString rejects oversized values, invalid UTF-8 and null bytes
func validateString(value, field string, maxBytes int) error {
	if len(value) > maxBytes {
		return fmt.Errorf("%s must not exceed %d bytes", field, maxBytes)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}
