// Package validation provides input validation middleware for the verification API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxAnswerLength is the maximum length for submitted answers
const MaxAnswerLength = 100

var (
	// sessionIDRegex validates session identifiers
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)
	// challengeIDRegex validates challenge identifiers
	challengeIDRegex = regexp.MustCompile(`^chl_[a-zA-Z0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSessionID checks if a string is a well-formed session identifier
func IsValidSessionID(id string) bool {
	return sessionIDRegex.MatchString(id)
}

// IsValidChallengeID checks if a string is a well-formed challenge identifier
func IsValidChallengeID(id string) bool {
	return challengeIDRegex.MatchString(id)
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

// SanitizeAnswer normalizes a submitted challenge answer
func SanitizeAnswer(answer string) string {
	return SanitizeString(answer, MaxAnswerLength)
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

// ValidSession checks if a field is a well-formed session identifier
func ValidSession(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidSessionID(value) {
			return &ValidationError{Field: field, Message: "must be 1-128 characters of [a-zA-Z0-9_-]"}
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

// SessionParamMiddleware validates the :session URL parameter on routes that use it.
// Apply to route groups that include :session params to reject malformed IDs early.
func SessionParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("session")
		if session != "" && !IsValidSessionID(session) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session",
				"message": "session must be 1-128 characters of [a-zA-Z0-9_-]",
			})
			return
		}
		c.Next()
	}
}
