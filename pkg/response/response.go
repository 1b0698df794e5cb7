package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fundops/capcall-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeDependencyFailed  = "DEPENDENCY_FAILED"
)

// Handle maps engine errors to their HTTP responses. Validation errors carry
// the full violation set; dependency failures only reach this path when a
// collaborator fault could not be recorded as a sub-state.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var (
		validationErr *types.ValidationError
		notFoundErr   *types.NotFoundError
		duplicateErr  *types.DuplicateError
		conflictErr   *types.ConflictError
		dependencyErr *types.DependencyError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error: &Error{
				Code:    ErrCodeValidationFailed,
				Message: validationErr.Error(),
				Details: validationErr.Violations,
			},
		})
	case errors.As(err, &notFoundErr):
		NotFound(c, notFoundErr.Error())
	case errors.As(err, &duplicateErr):
		Conflict(c, duplicateErr.Error())
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error: &Error{
				Code:    ErrCodeConflict,
				Message: conflictErr.Error(),
			},
		})
	case errors.As(err, &dependencyErr):
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Error: &Error{
				Code:    ErrCodeDependencyFailed,
				Message: dependencyErr.Error(),
			},
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}
