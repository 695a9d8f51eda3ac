package ports

import (
	"context"

	"model-pipeline-service/internal/core/domain"
)

// QuerySpec describes which slice of the source table a pipeline run
// should extract. Features and Label name columns in Table; Limit of
// zero means no cap.
type QuerySpec struct {
	Table    string
	Features []string
	Label    string
	Limit    int
}

// DatasetSource pulls labeled rows from the upstream system of record.
type DatasetSource interface {
	// Fetch returns the dataset for spec. Connectivity failures map to
	// domain.ErrSourceUnavailable, rows that do not fit the declared
	// column types to domain.ErrSchemaMismatch.
	Fetch(ctx context.Context, spec QuerySpec) (*domain.Dataset, error)
}
