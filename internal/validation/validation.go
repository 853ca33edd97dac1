// Package validation provides input validation helpers and middleware for the PulseGuard API.
package validation

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxURLLength bounds registered sink URLs
const MaxURLLength = 2048

// ethAddressRegex validates Ethereum addresses
var ethAddressRegex = regexp.MustCompile(`^0[xX][a-fA-F0-9]{40}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsHTTPURL reports whether s is an absolute http:// or https:// URL with a host
func IsHTTPURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// SanitizeString trims whitespace and strips NUL bytes. Length is left to
// MaxLength so oversize input is rejected rather than truncated.
func SanitizeString(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NonNegative checks that a numeric field is finite and >= 0
func NonNegative(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// AtMost checks that a numeric field does not exceed limit
func AtMost(field string, value, limit float64) func() *ValidationError {
	return func() *ValidationError {
		if value > limit {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %g", limit)}
		}
		return nil
	}
}

// WholeNumber checks that a numeric field has no fractional part
func WholeNumber(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value != math.Trunc(value) {
			return &ValidationError{Field: field, Message: "must be an integer"}
		}
		return nil
	}
}

// HTTPURL checks that a field is an http(s) URL
func HTTPURL(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsHTTPURL(value) {
			return &ValidationError{Field: field, Message: "must start with http:// or https://"}
		}
		return nil
	}
}
