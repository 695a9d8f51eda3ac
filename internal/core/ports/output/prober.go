package ports

import "context"

// ServingProber asks a running inference endpoint which artifact
// version it is serving, for post-deploy health checks.
type ServingProber interface {
	ServingVersion(ctx context.Context) (int, error)
}
