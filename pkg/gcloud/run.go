package gcloud

import (
	"context"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/runner"
)

// Condition is one entry of a Cloud Run status condition list.
type Condition struct {
	Type    string
	Status  string
	Reason  string
	Message string
}

// ServiceStatus is the subset of a Cloud Run service description the
// deployer and locator need.
type ServiceStatus struct {
	Name               string
	URL                string
	LatestCreated      string
	LatestReady        string
	ObservedGeneration int
	Generation         int
	Conditions         []Condition
}

// Condition returns the condition of the given type.
func (s *ServiceStatus) Condition(condType string) (Condition, bool) {
	for _, c := range s.Conditions {
		if c.Type == condType {
			return c, true
		}
	}
	return Condition{}, false
}

// RunDeploy runs `gcloud run deploy service` with flags. Secret values
// must not appear in flags.
func (c *Client) RunDeploy(ctx context.Context, service string, flags []string, redact []string) error {
	args := append([]string{"run", "deploy", service}, flags...)
	c.logger.Info("Deploying service", log.Str("service", service))
	_, err := c.runWith(ctx, "gcloud run deploy", runtimePolicy, runner.Cmd{
		Args:   args,
		Redact: redact,
		Stream: true,
	})
	return err
}

// DescribeService returns the service's current status.
func (c *Client) DescribeService(ctx context.Context, service, region string) (*ServiceStatus, error) {
	parsed, err := c.runJSON(ctx, "gcloud run services describe", runner.Cmd{
		Args: []string{"run", "services", "describe", service, "--region", region},
	})
	if err != nil {
		return nil, err
	}
	return parseServiceStatus(parsed), nil
}

func parseServiceStatus(p *gabs.Container) *ServiceStatus {
	s := &ServiceStatus{
		Name:               str(p, "metadata.name"),
		URL:                str(p, "status.url"),
		LatestCreated:      str(p, "status.latestCreatedRevisionName"),
		LatestReady:        str(p, "status.latestReadyRevisionName"),
		ObservedGeneration: num(p, "status.observedGeneration"),
		Generation:         num(p, "metadata.generation"),
	}

	if conds, err := p.Path("status.conditions").Children(); err == nil {
		for _, c := range conds {
			s.Conditions = append(s.Conditions, Condition{
				Type:    str(c, "type"),
				Status:  str(c, "status"),
				Reason:  str(c, "reason"),
				Message: str(c, "message"),
			})
		}
	}
	return s
}

func str(c *gabs.Container, path string) string {
	v, _ := c.Path(path).Data().(string)
	return strings.TrimSpace(v)
}

func num(c *gabs.Container, path string) int {
	switch v := c.Path(path).Data().(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
