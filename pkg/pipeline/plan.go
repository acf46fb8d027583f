package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/types"
	"gopkg.in/yaml.v3"
)

// Step names, in execution order.
const (
	StepBuild  = "build"
	StepPush   = "push"
	StepSecret = "secret"
	StepDeploy = "deploy"
	StepLocate = "locate"
)

// Steps lists every step in order.
var Steps = []string{StepBuild, StepPush, StepSecret, StepDeploy, StepLocate}

// Plan is one deploy cycle for a single service.
type Plan struct {
	RunID string

	Project string
	Region  string
	Service string

	// Image is the tagged reference to build and push
	Image types.ImageReference

	// Build carries source and Dockerfile settings; its Image is overwritten
	Build builder.BuildRequest

	Resources types.Resources
	Network   types.NetworkPolicy
	Env       map[string]string
	Labels    map[string]string

	// CredentialMode selects secret-reference or literal injection
	CredentialMode types.CredentialMode
	EnvVar         string

	// SecretName is the store entry provisioned in secret mode
	SecretName string

	// SecretVersion is deployed when SkipSecret is set; empty means latest
	SecretVersion string

	// Credential is the raw value: provisioned in secret mode, injected in literal mode
	Credential string

	SkipBuild       bool
	SkipSecret      bool
	DryRun          bool
	ParallelSecrets bool

	// Retries is how many times a step is retried after a transient failure
	Retries int
}

// WithRunID returns a copy of the plan with a fresh run id if none is set.
func (p Plan) WithRunID() Plan {
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	return p
}

// Validate checks everything that can be checked without an external call.
func (p *Plan) Validate() error {
	if p.Project == "" {
		return types.NewValidationError("project is required")
	}
	if p.Region == "" {
		return types.NewValidationError("region is required")
	}
	if p.Service == "" {
		return types.NewValidationError("service is required")
	}
	if err := p.Image.Validate(); err != nil {
		return err
	}
	if err := p.Resources.WithDefaults().Validate(); err != nil {
		return err
	}
	if p.Retries < 0 {
		return types.NewValidationError("retries cannot be negative")
	}

	switch p.CredentialMode {
	case types.CredentialModeSecret:
		if err := types.ValidateSecretName(p.SecretName); err != nil {
			return err
		}
		if p.SkipSecret {
			ref := types.SecretRef{Name: p.SecretName, Version: p.SecretVersion}
			return ref.Validate()
		}
		if strings.TrimSpace(p.Credential) == "" {
			return types.NewValidationError("no credential value to provision; provide one or skip the secret step")
		}
	case types.CredentialModeLiteral:
		if strings.TrimSpace(p.Credential) == "" {
			return types.NewValidationError("literal credential mode needs a value")
		}
	default:
		return types.NewValidationError(fmt.Sprintf("unknown credential mode %q", p.CredentialMode))
	}
	return nil
}

// dryRunView is the redacted rendering of a plan.
type dryRunView struct {
	RunID      string              `yaml:"run_id"`
	Project    string              `yaml:"project"`
	Region     string              `yaml:"region"`
	Service    string              `yaml:"service"`
	Image      string              `yaml:"image"`
	Strategy   string              `yaml:"build_strategy,omitempty"`
	Steps      []string            `yaml:"steps"`
	Resources  types.Resources     `yaml:"resources"`
	Network    types.NetworkPolicy `yaml:"network"`
	Credential dryRunCredential    `yaml:"credential"`
	Env        map[string]string   `yaml:"env,omitempty"`
	Labels     map[string]string   `yaml:"labels,omitempty"`
	Parallel   bool                `yaml:"parallel_secrets"`
}

type dryRunCredential struct {
	Mode    types.CredentialMode     `yaml:"mode"`
	EnvVar  string                   `yaml:"env_var"`
	Secret  string                   `yaml:"secret,omitempty"`
	Literal *types.LiteralCredential `yaml:"literal,omitempty"`
}

// RenderDryRun writes the plan as YAML. Credential values are redacted.
func RenderDryRun(w io.Writer, p Plan, strategy string) error {
	network := p.Network
	if network == "" {
		network = types.NetworkPolicyPublic
	}
	envVar := p.EnvVar
	if envVar == "" {
		envVar = types.DefaultCredentialEnvVar
	}

	view := dryRunView{
		RunID:     p.RunID,
		Project:   p.Project,
		Region:    p.Region,
		Service:   p.Service,
		Image:     p.Image.String(),
		Steps:     plannedSteps(p),
		Resources: p.Resources.WithDefaults(),
		Network:   network,
		Env:       p.Env,
		Labels:    p.Labels,
		Parallel:  p.ParallelSecrets,
		Credential: dryRunCredential{
			Mode:   p.CredentialMode,
			EnvVar: envVar,
		},
	}
	if !p.SkipBuild {
		view.Strategy = strategy
	}
	switch p.CredentialMode {
	case types.CredentialModeSecret:
		version := p.SecretVersion
		if !p.SkipSecret || version == "" {
			version = types.LatestVersion
		}
		view.Credential.Secret = types.SecretRef{Name: p.SecretName, Version: version}.String()
	case types.CredentialModeLiteral:
		view.Credential.Literal = types.NewLiteralCredential(p.Credential)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}
	return enc.Close()
}

func plannedSteps(p Plan) []string {
	var steps []string
	for _, s := range Steps {
		switch {
		case s == StepBuild && p.SkipBuild:
		case s == StepSecret && (p.SkipSecret || p.CredentialMode == types.CredentialModeLiteral):
		default:
			steps = append(steps, s)
		}
	}
	return steps
}
