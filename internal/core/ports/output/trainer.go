package ports

import (
	"context"

	"model-pipeline-service/internal/core/domain"
)

// TrainResult carries the fitted model plus its holdout evaluation.
type TrainResult struct {
	Artifact *domain.ModelArtifact
	Metric   float64
	Warnings []string
}

// Trainer fits a classifier on a dataset. Implementations must be
// deterministic for a fixed dataset and config.
type Trainer interface {
	// Train splits ds per cfg, fits on the training partition and
	// evaluates on the holdout. Degenerate inputs map to
	// domain.ErrEmptyDataset, domain.ErrInsufficientData or
	// domain.ErrTrainingFailed.
	Train(ctx context.Context, ds *domain.Dataset, cfg domain.TrainConfig) (*TrainResult, error)
}
