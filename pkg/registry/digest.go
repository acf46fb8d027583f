package registry

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/rzbill/aideploy/pkg/docker"
	"github.com/rzbill/aideploy/pkg/registry/auth"
	"github.com/rzbill/aideploy/pkg/types"
)

const opResolve = "registry manifest head"

// RemoteDigester issues a manifest HEAD against the registry.
type RemoteDigester struct {
	transport http.RoundTripper
}

// NewRemoteDigester creates a digester using the default transport.
func NewRemoteDigester() *RemoteDigester {
	return &RemoteDigester{transport: remote.DefaultTransport}
}

// Digest returns the manifest digest for the tag of ref.
func (d *RemoteDigester) Digest(ctx context.Context, ref types.ImageReference, cred *auth.Credential) (string, error) {
	tag, err := name.ParseReference(ref.String())
	if err != nil {
		return "", types.NewValidationError(err.Error())
	}
	desc, err := remote.Head(tag,
		remote.WithContext(ctx),
		remote.WithAuth(cred.Authenticator()),
		remote.WithTransport(d.transport))
	if err != nil {
		return "", classifyRemote(err)
	}
	return desc.Digest.String(), nil
}

func classifyRemote(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch {
		case terr.StatusCode == http.StatusUnauthorized, terr.StatusCode == http.StatusForbidden:
			return types.NewError(types.KindAuth, opResolve, err)
		case terr.StatusCode == http.StatusTooManyRequests, terr.StatusCode >= 500:
			return types.NewError(types.KindTransient, opResolve, err)
		case terr.StatusCode == http.StatusNotFound:
			return types.NewError(types.KindRejected, opResolve, err).
				WithDiagnostic("the registry has no manifest for this tag; the push did not complete")
		}
		return types.NewError(types.KindRejected, opResolve, err)
	}
	if docker.IsTransientNetwork(err) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.KindTransient, opResolve, err)
	}
	return types.NewError(types.KindUnknown, opResolve, err)
}
