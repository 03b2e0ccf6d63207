package api

import (
	"errors"   // Error matching
	"net/http" // HTTP status codes
	"strconv"  // Query parsing
	"time"     // Cursor parsing

	"budget_system/internal/domain"     // Error taxonomy
	"budget_system/internal/middleware" // Authenticated user lookup
	"budget_system/internal/service"    // Currency rule
	"budget_system/internal/transcribe" // Transcription errors

	"github.com/gin-gonic/gin"               // Gin web framework
	"github.com/gin-gonic/gin/binding"       // Request binding engine
	"github.com/go-playground/validator/v10" // Custom binding rules
	"github.com/sirupsen/logrus"             // Structured logging
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, transcribe.ErrTooLong):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, transcribe.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, transcribe.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, transcribe.ErrEngine):
		return http.StatusBadGateway
	case errors.Is(err, transcribe.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError answers with an {"error": ...} body. Unexpected
// errors are logged and hidden behind a generic message.
func writeError(c *gin.Context, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"action":  action,
			"user_id": middleware.UserID(c),
			"error":   err.Error(),
		}).Error("Request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// badRequest answers a request that failed binding
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "detail": err.Error()})
}

// currentUser returns the authenticated user's id
func currentUser(c *gin.Context) string {
	return middleware.UserID(c)
}

// page reads limit/offset query parameters. Missing or malformed values fall
// back to the configured default; limit is capped at max.
func page(c *gin.Context, def, max int) (limit, offset int) {
	limit = def
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > max {
		limit = max
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// optionalTime parses an RFC 3339 query parameter
func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// optionalDay parses a YYYY-MM-DD (or RFC 3339) query parameter
func optionalDay(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := service.ParseDay(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RegisterValidators adds the custom binding rules used by request structs
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return service.ValidCurrency(fl.Field().String())
	})
}
