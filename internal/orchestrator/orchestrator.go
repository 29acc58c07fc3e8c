// Package orchestrator talks to the container-orchestration control plane.
// The watcher issues exactly one mutating operation: "update service, force
// new deployment", which is idempotent at the control-plane level.
package orchestrator

import "context"

// ControlPlane is the interface the watcher drives deployments through
type ControlPlane interface {
	// ForceNewDeployment replaces the running tasks of cluster/service with
	// fresh ones pulling the current image, without changing the service's
	// declared configuration.
	ForceNewDeployment(ctx context.Context, cluster, service string) error

	// DescribeTarget verifies that cluster/service exists and is active.
	// Used for startup validation of configured deployment targets.
	DescribeTarget(ctx context.Context, cluster, service string) error
}
