package ports

import "context"

// Deployer rolls the serving workload so it picks up a newly published
// artifact.
type Deployer interface {
	// Restart triggers a rolling restart of the serving deployment.
	Restart(ctx context.Context) error

	// IsAvailable reports whether a deployment target is configured.
	// When false the deploy stage is skipped rather than failed.
	IsAvailable() bool
}
