package dto

import (
	"time"

	"model-pipeline-service/internal/core/domain"
)

// ============================================================================
// Prediction DTOs
// ============================================================================

type PredictRequest struct {
	Features map[string]interface{} `json:"features" binding:"required"`
}

type PredictResponse struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Version     int     `json:"version"`
}

type VersionResponse struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Metric    float64   `json:"metric"`
}

func ToPredictResponse(resp *domain.PredictionResponse) PredictResponse {
	return PredictResponse{
		Label:       resp.Label,
		Probability: resp.Probability,
		Version:     resp.Version,
	}
}

func ToVersionResponse(artifact *domain.ModelArtifact) VersionResponse {
	return VersionResponse{
		Version:   artifact.Version,
		CreatedAt: artifact.CreatedAt,
		Metric:    artifact.Metric,
	}
}
