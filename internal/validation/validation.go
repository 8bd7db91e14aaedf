// Package validation provides input validation helpers for the trustdesk API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

// idRegex validates identifiers: either prefixed random ids (req_..., dsp_...)
// or UUID-style ids coming from the external identity store.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a well-formed identifier
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
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

// Validate validates a request and returns errors
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

// ValidID checks if a field is a well-formed identifier
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be a well-formed identifier"}
		}
		return nil
	}
}

// MinLength checks if a field meets a minimum length (after trimming)
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < min {
			return &ValidationError{Field: field, Message: "is below minimum length"}
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

// ScoreInRange checks that a score falls in [min, max]
func ScoreInRange(field string, value, min, max int) func() *ValidationError {
	return func() *ValidationError {
		if value < min || value > max {
			return &ValidationError{Field: field, Message: "is out of range"}
		}
		return nil
	}
}

// IDParamMiddleware validates the named URL parameter on routes that use it.
// Apply to route groups that include id params to reject malformed ids early.
func IDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := c.Param(param)
		if v != "" && !IsValidID(v) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "Malformed " + param + " parameter",
			})
			return
		}
		c.Next()
	}
}
