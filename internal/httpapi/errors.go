package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an API error code.
type ErrorCode string

const (
	// Client errors
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidURL        ErrorCode = "INVALID_URL"
	ErrCodeMaxMonitors       ErrorCode = "MAX_MONITORS_EXCEEDED"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Server errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeUpstream ErrorCode = "UPSTREAM_ERROR"
)

// developmentMode controls whether error responses carry diagnostic detail.
var developmentMode bool

// SetDevelopmentMode toggles inclusion of the detail field in error responses.
func SetDevelopmentMode(enabled bool) {
	developmentMode = enabled
}

// ErrorResponse is the envelope for every failed API call.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Code    ErrorCode `json:"code"`
	Error   string    `json:"error"`
	Detail  string    `json:"detail,omitempty"`
}

// RespondError sends an error envelope with the given status code.
func RespondError(c *gin.Context, statusCode int, code ErrorCode, message string) {
	c.JSON(statusCode, ErrorResponse{Success: false, Code: code, Error: message})
}

// RespondErrorDetail sends an error envelope carrying diagnostic detail
// when development mode is enabled; the detail is dropped in production.
func RespondErrorDetail(c *gin.Context, statusCode int, code ErrorCode, message string, err error) {
	resp := ErrorResponse{Success: false, Code: code, Error: message}
	if developmentMode && err != nil {
		resp.Detail = err.Error()
	}
	c.JSON(statusCode, resp)
}

// RespondBadRequest sends a 400 response for an unparseable request body.
func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// RespondValidationError sends a 400 response for validation errors.
func RespondValidationError(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeValidation, message)
}

// RespondNotFound sends a 404 Not Found response.
func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// RespondInternalError sends a 500 Internal Server Error response.
func RespondInternalError(c *gin.Context, message string, err error) {
	RespondErrorDetail(c, http.StatusInternalServerError, ErrCodeInternal, message, err)
}
