package gcloud

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/types"
)

// SecretAccessorRole lets a principal read secret payloads.
const SecretAccessorRole = "roles/secretmanager.secretAccessor"

// DescribeSecret returns the secret's metadata. Versions are not listed.
func (c *Client) DescribeSecret(ctx context.Context, name string) (*types.SecretRecord, error) {
	parsed, err := c.runJSON(ctx, "gcloud secrets describe", runner.Cmd{
		Args: []string{"secrets", "describe", name},
	})
	if err != nil {
		return nil, err
	}
	return &types.SecretRecord{
		Name:      name,
		CreatedAt: parseTime(parsed, "createTime"),
	}, nil
}

// CreateSecret creates a secret with automatic replication and its first
// version. The payload is written to stdin.
func (c *Client) CreateSecret(ctx context.Context, name string, payload []byte) error {
	_, err := c.run(ctx, "gcloud secrets create", runner.Cmd{
		Args:   []string{"secrets", "create", name, "--replication-policy=automatic", "--data-file=-"},
		Stdin:  payload,
		Redact: []string{string(payload)},
	})
	return err
}

// AddSecretVersion appends a version. The payload is written to stdin.
func (c *Client) AddSecretVersion(ctx context.Context, name string, payload []byte) (types.SecretVersion, error) {
	parsed, err := c.runJSON(ctx, "gcloud secrets versions add", runner.Cmd{
		Args:   []string{"secrets", "versions", "add", name, "--data-file=-"},
		Stdin:  payload,
		Redact: []string{string(payload)},
	})
	if err != nil {
		return types.SecretVersion{}, err
	}
	return parseVersion(name, parsed), nil
}

// AccessSecretVersion returns the payload of one version.
func (c *Client) AccessSecretVersion(ctx context.Context, name, version string) ([]byte, error) {
	if version == "" {
		version = types.LatestVersion
	}
	res, err := c.run(ctx, "gcloud secrets versions access", runner.Cmd{
		Args: []string{"secrets", "versions", "access", version, "--secret", name},
	})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// ListSecretVersions returns every version, oldest first.
func (c *Client) ListSecretVersions(ctx context.Context, name string) ([]types.SecretVersion, error) {
	parsed, err := c.runJSON(ctx, "gcloud secrets versions list", runner.Cmd{
		Args: []string{"secrets", "versions", "list", name, "--sort-by=createTime"},
	})
	if err != nil {
		return nil, err
	}
	children, err := parsed.Children()
	if err != nil {
		// an empty list renders as []
		return nil, nil
	}
	out := make([]types.SecretVersion, 0, len(children))
	for _, child := range children {
		out = append(out, parseVersion(name, child))
	}
	return out, nil
}

// AddSecretIAMBinding grants role on the secret to member. Re-adding an
// existing binding is a no-op on the server.
func (c *Client) AddSecretIAMBinding(ctx context.Context, name, member, role string) error {
	_, err := c.run(ctx, "gcloud secrets add-iam-policy-binding", runner.Cmd{
		Args: []string{"secrets", "add-iam-policy-binding", name, "--member", member, "--role", role},
	})
	return err
}

func parseVersion(secret string, c *gabs.Container) types.SecretVersion {
	full, _ := c.Path("name").Data().(string)
	state, _ := c.Path("state").Data().(string)
	return types.SecretVersion{
		Name:      secret,
		ID:        path.Base(full),
		State:     types.SecretVersionState(strings.ToLower(state)),
		CreatedAt: parseTime(c, "createTime"),
	}
}

func parseTime(c *gabs.Container, field string) time.Time {
	s, _ := c.Path(field).Data().(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
