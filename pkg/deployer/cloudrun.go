package deployer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rzbill/aideploy/pkg/gcloud"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
	"gopkg.in/yaml.v3"
)

// CloudRunAPI is the subset of the gcloud client used by CloudRunDeployer.
type CloudRunAPI interface {
	RunDeploy(ctx context.Context, service string, flags []string, redact []string) error
	DescribeService(ctx context.Context, service, region string) (*gcloud.ServiceStatus, error)
}

// CloudRunDeployer deploys with `gcloud run deploy`.
type CloudRunDeployer struct {
	api     CloudRunAPI
	tempDir string
	logger  log.Logger
}

// CloudRunOption configures a CloudRunDeployer.
type CloudRunOption func(*CloudRunDeployer)

// WithTempDir sets where env-vars files are written.
func WithTempDir(dir string) CloudRunOption {
	return func(d *CloudRunDeployer) {
		d.tempDir = dir
	}
}

// WithLogger sets the deployer logger.
func WithLogger(logger log.Logger) CloudRunOption {
	return func(d *CloudRunDeployer) {
		d.logger = logger
	}
}

// NewCloudRunDeployer creates a Cloud Run deployer.
func NewCloudRunDeployer(api CloudRunAPI, opts ...CloudRunOption) *CloudRunDeployer {
	d := &CloudRunDeployer{api: api, logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("deployer")
	return d
}

// Apply submits spec. In literal mode the credential travels in a 0600
// env-vars file that is removed afterwards, never on the command line.
func (d *CloudRunDeployer) Apply(ctx context.Context, spec *types.DeploymentSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	flags, err := baseFlags(spec)
	if err != nil {
		return err
	}
	var redact []string

	switch spec.Credential.Mode {
	case types.CredentialModeSecret:
		ref := spec.Credential.Secret
		flags = append(flags, "--set-secrets", fmt.Sprintf("%s=%s:%s", spec.Credential.EnvVar, ref.Name, versionOrLatest(ref.Version)))
		if len(spec.Env) > 0 {
			env, err := joinPairs("env", spec.Env)
			if err != nil {
				return err
			}
			flags = append(flags, "--set-env-vars", env)
		} else {
			flags = append(flags, "--clear-env-vars")
		}
	case types.CredentialModeLiteral:
		d.logger.Warn("Literal credential mode: the value is stored in the revision configuration and readable by anyone with access to the service",
			log.Str("env", spec.Credential.EnvVar),
			log.Str("service", spec.Service))
		value := spec.Credential.Literal.Reveal()
		log.Mask(value)
		redact = append(redact, value)

		env := make(map[string]string, len(spec.Env)+1)
		for k, v := range spec.Env {
			env[k] = v
		}
		env[spec.Credential.EnvVar] = value
		path, err := d.writeEnvFile(env)
		if err != nil {
			return err
		}
		defer os.Remove(path)
		flags = append(flags, "--env-vars-file", path, "--clear-secrets")
	}

	return d.api.RunDeploy(ctx, spec.Service, flags, redact)
}

// Status describes the service.
func (d *CloudRunDeployer) Status(ctx context.Context, service, region string) (*Status, error) {
	st, err := d.api.DescribeService(ctx, service, region)
	if err != nil {
		return nil, err
	}
	out := &Status{
		Service:       st.Name,
		URL:           st.URL,
		LatestCreated: st.LatestCreated,
		LatestReady:   st.LatestReady,
		Ready:         ConditionUnknown,
	}
	if cond, ok := st.Condition("Ready"); ok {
		out.Ready = cond.Status
		out.ReadyReason = cond.Reason
		out.ReadyMessage = cond.Message
	}
	return out, nil
}

func baseFlags(spec *types.DeploymentSpec) ([]string, error) {
	r := spec.Resources
	flags := []string{
		"--image", spec.Image.Pinned(),
		"--region", spec.Region,
		"--platform", "managed",
		"--port", strconv.Itoa(r.Port),
		"--memory", r.Memory,
		"--min-instances", strconv.Itoa(r.MinInstances),
	}
	if r.MaxInstances > 0 {
		flags = append(flags, "--max-instances", strconv.Itoa(r.MaxInstances))
	}
	if r.CPU != "" {
		flags = append(flags, "--cpu", r.CPU)
	}
	if r.Concurrency > 0 {
		flags = append(flags, "--concurrency", strconv.Itoa(r.Concurrency))
	}
	if r.RequestTimeout > 0 {
		flags = append(flags, "--timeout", fmt.Sprintf("%ds", int(r.RequestTimeout.Seconds())))
	}
	if spec.Network == types.NetworkPolicyRestricted {
		flags = append(flags, "--no-allow-unauthenticated")
	} else {
		flags = append(flags, "--allow-unauthenticated")
	}
	if len(spec.Labels) > 0 {
		labels, err := joinPairs("labels", spec.Labels)
		if err != nil {
			return nil, err
		}
		flags = append(flags, "--labels", labels)
	}
	return flags, nil
}

func (d *CloudRunDeployer) writeEnvFile(env map[string]string) (string, error) {
	data, err := yaml.Marshal(env)
	if err != nil {
		return "", types.NewError(types.KindUnknown, "write env-vars file", err)
	}
	f, err := os.CreateTemp(d.tempDir, "aideploy-env-*.yaml")
	if err != nil {
		return "", types.NewError(types.KindEnvironment, "write env-vars file", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", types.NewError(types.KindEnvironment, "write env-vars file", err)
	}
	return path, nil
}

func versionOrLatest(v string) string {
	if v == "" {
		return types.LatestVersion
	}
	return v
}

// pairDelimiters replace the comma when a key or value contains one.
// gcloud reads a leading ^D^ as "split this list on D".
var pairDelimiters = []string{"@", "|", ";", "#", "~"}

// joinPairs renders k=v pairs in key order as one gcloud list argument.
func joinPairs(what string, m map[string]string) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}

	all := strings.Join(pairs, "")
	if !strings.Contains(all, ",") {
		return strings.Join(pairs, ","), nil
	}
	for _, d := range pairDelimiters {
		if !strings.Contains(all, d) {
			return "^" + d + "^" + strings.Join(pairs, d), nil
		}
	}
	return "", types.NewValidationError(fmt.Sprintf("%s contain commas and every alternate delimiter %v", what, pairDelimiters))
}
