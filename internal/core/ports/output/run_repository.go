package ports

import (
	"context"

	"github.com/google/uuid"

	"model-pipeline-service/internal/core/domain"
)

// RunListFilter narrows and pages run listings.
type RunListFilter struct {
	Stage  string
	Limit  int
	Offset int
}

// PipelineRunRepository persists run records and their stage history.
type PipelineRunRepository interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Update(ctx context.Context, run *domain.PipelineRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error)
	List(ctx context.Context, filter RunListFilter) ([]*domain.PipelineRun, int, error)
}
