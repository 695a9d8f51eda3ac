package handlers

import (
	"net/http"

	"model-pipeline-service/internal/adapters/primary/http/dto"
	"model-pipeline-service/internal/core/domain"
	"model-pipeline-service/internal/core/services"

	"github.com/gin-gonic/gin"
)

// ServingHandler exposes the inference API backed by the loaded
// artifact.
type ServingHandler struct {
	predictionSvc *services.PredictionService
}

func NewServingHandler(predictionSvc *services.PredictionService) *ServingHandler {
	return &ServingHandler{predictionSvc: predictionSvc}
}

func (h *ServingHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/predict", h.Predict)
	r.GET("/version", h.GetVersion)
}

func (h *ServingHandler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.predictionSvc.Predict(c.Request.Context(), domain.PredictionRequest{
		Features: req.Features,
	})
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToPredictResponse(resp))
}

func (h *ServingHandler) GetVersion(c *gin.Context) {
	artifact, err := h.predictionSvc.Current()
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToVersionResponse(artifact))
}
