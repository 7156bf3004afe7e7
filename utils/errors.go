package utils

import (
	"errors"
	"net/http"

	"emergency-knowledge-service/models"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithDomainError maps pipeline errors to HTTP responses: caller
// mistakes are 400, missing resources 404, upstream provider or store
// trouble 502, anything else 500.
func RespondWithDomainError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	var embeddingErr *models.EmbeddingError
	var storeErr *models.StoreError

	switch {
	case errors.As(err, &validationErr):
		RespondWithError(c, http.StatusBadRequest, "validation_error", validationErr.Error(), gin.H{
			"field": validationErr.Field,
		})
	case errors.As(err, &notFoundErr):
		RespondWithNotFound(c, notFoundErr.Error())
	case errors.As(err, &embeddingErr):
		RespondWithError(c, http.StatusBadGateway, "embedding_failure", embeddingErr.Error(), nil)
	case errors.As(err, &storeErr):
		RespondWithError(c, http.StatusBadGateway, "store_error", storeErr.Error(), nil)
	default:
		RespondWithInternalError(c, err.Error(), nil)
	}
}
