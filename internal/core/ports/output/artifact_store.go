package ports

import (
	"context"

	"model-pipeline-service/internal/core/domain"
)

// ArtifactStore persists immutable model artifacts and tracks which
// version is currently published for serving.
type ArtifactStore interface {
	// Put writes artifact under the next version number and returns it.
	// The store fills Version and CreatedAt; implementations must never
	// overwrite an existing version.
	Put(ctx context.Context, artifact *domain.ModelArtifact) (int, error)

	// Publish atomically points the current marker at version.
	// Publishing the already-current version is a no-op. Unknown
	// versions map to domain.ErrArtifactNotFound.
	Publish(ctx context.Context, version int) error

	// Get loads a stored version.
	Get(ctx context.Context, version int) (*domain.ModelArtifact, error)

	// GetCurrent loads the published version, or
	// domain.ErrNoCurrentArtifact when nothing has been published yet.
	GetCurrent(ctx context.Context) (*domain.ModelArtifact, error)

	// CurrentVersion reports the published version number without
	// loading the artifact payload.
	CurrentVersion(ctx context.Context) (int, error)

	// ListVersions returns summaries of all stored versions, newest
	// first.
	ListVersions(ctx context.Context) ([]domain.ArtifactInfo, error)

	// Prune removes the oldest versions beyond keep, never touching the
	// published one. It returns the removed version numbers.
	Prune(ctx context.Context, keep int) ([]int, error)
}

// ArtifactWatcher notifies when the published version changes out from
// under a reader, so serving processes can hot-reload.
type ArtifactWatcher interface {
	// Watch blocks until ctx is done, invoking onChange after each
	// observed change to the published version.
	Watch(ctx context.Context, onChange func()) error
}
