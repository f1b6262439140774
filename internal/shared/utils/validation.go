package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Payload size limits (in bytes)
const (
	MaxJSONSize = 1 * 1024 * 1024 // 1MB - maximum API request body
	MaxPageSize = 5 * 1024 * 1024 // 5MB - page markup submitted for inspection
	MaxTagSize  = 64 * 1024       // 64KB - a single emitted script tag
)

// String length limits
const (
	MaxHandleLength  = 128
	MaxPathLength    = 2048
	MaxURLLength     = 2048
	MaxTimelineSteps = 100
	MaxSimulatedSpan = 2 * time.Minute
)

// HandlePattern allows the characters script handles are registered with
var HandlePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize int
}

// NewJSONSizeValidator creates a new validator with the specified max size
func NewJSONSizeValidator(maxSize int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize}
}

// DefaultJSONValidator returns a validator with the default 1MB limit
func DefaultJSONValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxJSONSize)
}

// MaxSize returns the configured limit
func (v *JSONSizeValidator) MaxSize() int {
	return v.maxSize
}

// ValidateSize checks if the data size is within limits
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	size := len(data)
	if size > v.maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}

// ValidateJSON validates both size and JSON structure
func (v *JSONSizeValidator) ValidateJSON(data []byte) error {
	// Check size first (faster than parsing)
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	if !sonic.ConfigStd.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Check for null bytes (security issue)
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateHandle validates a script handle
func ValidateHandle(handle string, required bool) error {
	if err := ValidateString(handle, "handle", 1, MaxHandleLength, required); err != nil {
		return err
	}

	if handle != "" && !HandlePattern.MatchString(handle) {
		return fmt.Errorf("handle contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)")
	}

	return nil
}

// ValidatePath validates a site path such as /contact/
func ValidatePath(path string, required bool) error {
	if err := ValidateString(path, "path", 1, MaxPathLength, required); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if strings.ContainsAny(path, " \t\r\n") {
		return fmt.Errorf("path must not contain whitespace")
	}
	return nil
}

// ValidateScriptURL validates a script source as a page would reference it:
// absolute, protocol-relative or site-relative
func ValidateScriptURL(raw, fieldName string, required bool) error {
	if err := ValidateString(raw, fieldName, 1, MaxURLLength, required); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}

// ValidateMarkup validates submitted HTML by size only; any markup parses
func ValidateMarkup(markup, fieldName string, maxSize int) error {
	if len(markup) > maxSize {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", fieldName, len(markup), maxSize)
	}
	return nil
}
