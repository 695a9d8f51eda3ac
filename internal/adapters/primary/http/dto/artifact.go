package dto

import (
	"time"

	"model-pipeline-service/internal/core/domain"
)

// ============================================================================
// Artifact DTOs
// ============================================================================

type ArtifactInfoResponse struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Metric    float64   `json:"metric"`
}

type ListArtifactsResponse struct {
	Items []ArtifactInfoResponse `json:"items"`
	Total int                    `json:"total"`
}

// ArtifactResponse carries artifact metadata plus the feature schema a
// caller needs to build valid prediction requests. Model parameters
// stay internal to the store.
type ArtifactResponse struct {
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Metric    float64              `json:"metric"`
	Schema    domain.FeatureSchema `json:"schema"`
}

func ToArtifactInfoResponse(info domain.ArtifactInfo) ArtifactInfoResponse {
	return ArtifactInfoResponse{
		Version:   info.Version,
		CreatedAt: info.CreatedAt,
		Metric:    info.Metric,
	}
}

func ToArtifactResponse(artifact *domain.ModelArtifact) ArtifactResponse {
	return ArtifactResponse{
		Version:   artifact.Version,
		CreatedAt: artifact.CreatedAt,
		Metric:    artifact.Metric,
		Schema:    artifact.Schema,
	}
}
