package handlers

import (
	"errors"
	"net/http"

	"model-pipeline-service/internal/core/domain"

	"github.com/gin-gonic/gin"
)

func mapDomainError(c *gin.Context, err error) {
	switch {
	// Not found errors
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrArtifactNotFound),
		errors.Is(err, domain.ErrNoCurrentArtifact):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	// Conflict errors
	case errors.Is(err, domain.ErrRunFinished),
		errors.Is(err, domain.ErrVersionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidRunSpec):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	// Prediction payloads that parse but fail schema validation
	case errors.Is(err, domain.ErrRequestValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	// Service unavailable errors
	case errors.Is(err, domain.ErrModelNotLoaded),
		errors.Is(err, domain.ErrSourceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
