package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultCredentialEnvVar is the environment variable the service reads its API key from.
const DefaultCredentialEnvVar = "OPENAI_API_KEY"

var (
	envVarPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	serviceNamePattern = regexp.MustCompile(`^[a-z]([-a-z0-9]{0,47}[a-z0-9])?$`)
)

// reservedEnvVars are set by the runtime and rejected in user env.
var reservedEnvVars = map[string]bool{"PORT": true, "K_SERVICE": true, "K_REVISION": true, "K_CONFIGURATION": true}

// CredentialMode is how the running service receives its credential.
type CredentialMode string

const (
	// CredentialModeSecret resolves the credential through a secret store reference.
	CredentialModeSecret CredentialMode = "secret"

	// CredentialModeLiteral places the raw value in the service environment.
	// Discouraged: the value persists in the revision configuration.
	CredentialModeLiteral CredentialMode = "literal"
)

// ParseCredentialMode parses a mode name.
func ParseCredentialMode(s string) (CredentialMode, error) {
	switch CredentialMode(strings.ToLower(strings.TrimSpace(s))) {
	case CredentialModeSecret:
		return CredentialModeSecret, nil
	case CredentialModeLiteral:
		return CredentialModeLiteral, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown credential mode %q (want %q or %q)", s, CredentialModeSecret, CredentialModeLiteral))
	}
}

// NetworkPolicy controls who may invoke the service.
type NetworkPolicy string

const (
	// NetworkPolicyPublic allows unauthenticated callers. Quick testing only.
	NetworkPolicyPublic NetworkPolicy = "public"

	// NetworkPolicyRestricted requires caller authentication.
	NetworkPolicyRestricted NetworkPolicy = "restricted"
)

// ParseNetworkPolicy parses a policy name.
func ParseNetworkPolicy(s string) (NetworkPolicy, error) {
	switch NetworkPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkPolicyPublic, "":
		return NetworkPolicyPublic, nil
	case NetworkPolicyRestricted:
		return NetworkPolicyRestricted, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown network policy %q (want %q or %q)", s, NetworkPolicyPublic, NetworkPolicyRestricted))
	}
}

const redacted = "[REDACTED]"

// LiteralCredential holds a raw credential for the literal injection path.
// Every formatted or serialized rendering is redacted.
type LiteralCredential struct {
	value string
}

// NewLiteralCredential wraps a raw value.
func NewLiteralCredential(value string) *LiteralCredential {
	return &LiteralCredential{value: value}
}

// Reveal returns the raw value. Only the runtime adapter calls this.
func (c *LiteralCredential) Reveal() string {
	if c == nil {
		return ""
	}
	return c.value
}

// String implements fmt.Stringer.
func (c *LiteralCredential) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (c *LiteralCredential) GoString() string { return redacted }

// MarshalJSON implements json.Marshaler.
func (c *LiteralCredential) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// MarshalYAML implements yaml.Marshaler.
func (c *LiteralCredential) MarshalYAML() (interface{}, error) { return redacted, nil }

// CredentialInjection is a tagged variant: exactly one of Secret or Literal is set.
type CredentialInjection struct {
	// EnvVar is the variable name the service reads
	EnvVar string `json:"envVar" yaml:"envVar"`

	// Mode selects the active branch
	Mode CredentialMode `json:"mode" yaml:"mode"`

	// Secret is set in secret mode
	Secret *SecretRef `json:"secret,omitempty" yaml:"secret,omitempty"`

	// Literal is set in literal mode
	Literal *LiteralCredential `json:"literal,omitempty" yaml:"literal,omitempty"`
}

// SecretInjection returns a secret-reference injection.
func SecretInjection(envVar string, ref SecretRef) CredentialInjection {
	return CredentialInjection{EnvVar: envVar, Mode: CredentialModeSecret, Secret: &ref}
}

// LiteralInjection returns a literal-value injection.
func LiteralInjection(envVar, value string) CredentialInjection {
	return CredentialInjection{EnvVar: envVar, Mode: CredentialModeLiteral, Literal: NewLiteralCredential(value)}
}

// Validate checks that exactly one injection mode is selected and consistent.
func (c CredentialInjection) Validate() error {
	if !envVarPattern.MatchString(c.EnvVar) {
		return NewValidationError(fmt.Sprintf("invalid credential env var name %q", c.EnvVar))
	}
	hasSecret := c.Secret != nil
	hasLiteral := c.Literal != nil && c.Literal.value != ""
	switch {
	case hasSecret && hasLiteral:
		return NewValidationError("both secret-reference and literal credential injection are set; choose exactly one")
	case !hasSecret && !hasLiteral:
		return NewValidationError("no credential injection configured; set a secret reference or an explicit literal value")
	}
	switch c.Mode {
	case CredentialModeSecret:
		if !hasSecret {
			return NewValidationError("credential mode is secret but no secret reference is set")
		}
		return c.Secret.Validate()
	case CredentialModeLiteral:
		if !hasLiteral {
			return NewValidationError("credential mode is literal but no literal value is set")
		}
		return nil
	default:
		return NewValidationError(fmt.Sprintf("unknown credential mode %q", c.Mode))
	}
}

// DeploymentSpec is the declarative target state submitted to the runtime.
// It is built per deploy and never persisted.
type DeploymentSpec struct {
	Project string `json:"project" yaml:"project"`
	Region  string `json:"region" yaml:"region"`
	Service string `json:"service" yaml:"service"`

	// Image must be pinned by digest
	Image ImageReference `json:"image" yaml:"image"`

	Resources  Resources           `json:"resources" yaml:"resources"`
	Network    NetworkPolicy       `json:"network" yaml:"network"`
	Credential CredentialInjection `json:"credential" yaml:"credential"`

	// Env is non-sensitive environment for the service
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Labels are applied to the service
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Validate checks the full spec. No external call is needed.
func (s *DeploymentSpec) Validate() error {
	if s.Project == "" {
		return NewValidationError("project is required")
	}
	if s.Region == "" {
		return NewValidationError("region is required")
	}
	if !serviceNamePattern.MatchString(s.Service) {
		return NewValidationError(fmt.Sprintf("invalid service name %q: lowercase letters, digits and '-', starting with a letter", s.Service))
	}
	if err := s.Image.Validate(); err != nil {
		return err
	}
	if !s.Image.IsPinned() {
		return NewValidationError(fmt.Sprintf("image %s has no confirmed digest; the push step must complete before deploy", s.Image))
	}
	if err := s.Resources.Validate(); err != nil {
		return err
	}
	if s.Network != NetworkPolicyPublic && s.Network != NetworkPolicyRestricted {
		return NewValidationError(fmt.Sprintf("unknown network policy %q", s.Network))
	}
	if err := s.Credential.Validate(); err != nil {
		return err
	}
	for k := range s.Env {
		if !envVarPattern.MatchString(k) {
			return NewValidationError(fmt.Sprintf("invalid env var name %q", k))
		}
		if reservedEnvVars[k] {
			return NewValidationError(fmt.Sprintf("env var %s is set by the runtime", k))
		}
		if k == s.Credential.EnvVar {
			return NewValidationError(fmt.Sprintf("env var %s is reserved for credential injection", k))
		}
	}
	return nil
}

// Revision is the runtime's record of one applied spec.
type Revision struct {
	Service string `json:"service" yaml:"service"`
	Name    string `json:"name" yaml:"name"`
	Ready   bool   `json:"ready" yaml:"ready"`
}

// ServiceEndpoint is the externally reachable URL of a deployed service.
type ServiceEndpoint struct {
	Service    string    `json:"service" yaml:"service"`
	Region     string    `json:"region" yaml:"region"`
	URL        string    `json:"url" yaml:"url"`
	Revision   string    `json:"revision,omitempty" yaml:"revision,omitempty"`
	ObservedAt time.Time `json:"observedAt" yaml:"observedAt"`
}
