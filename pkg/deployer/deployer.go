// Package deployer submits a deployment spec to the managed runtime and
// waits for the resulting revision to become ready.
package deployer

import (
	"context"

	"github.com/rzbill/aideploy/pkg/types"
)

// Condition states reported by the runtime.
const (
	ConditionTrue    = "True"
	ConditionFalse   = "False"
	ConditionUnknown = "Unknown"
)

// Status is the runtime's view of a service.
type Status struct {
	Service       string
	URL           string
	LatestCreated string
	LatestReady   string

	// Ready is the Ready condition status, one of the Condition* constants
	Ready        string
	ReadyReason  string
	ReadyMessage string
}

// Converged reports whether the newest revision is serving.
func (s *Status) Converged() bool {
	return s.Ready == ConditionTrue && s.LatestCreated != "" && s.LatestCreated == s.LatestReady
}

// Deployer applies specs to a runtime.
type Deployer interface {
	// Apply submits spec as a full replacement of the service configuration.
	Apply(ctx context.Context, spec *types.DeploymentSpec) error

	// Status returns the current service status.
	Status(ctx context.Context, service, region string) (*Status, error)
}
