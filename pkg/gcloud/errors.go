package gcloud

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/types"
)

var (
	// ErrNotFound marks a missing secret, version or service.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists marks a create that collided with an existing resource.
	ErrAlreadyExists = errors.New("resource already exists")
)

const (
	helpInstall = "install the Google Cloud SDK: https://cloud.google.com/sdk/docs/install"
	helpLogin   = "run `gcloud auth login` and check the account has access to the project"
)

var (
	authMarkers = []string{
		"PERMISSION_DENIED",
		"UNAUTHENTICATED",
		"do not currently have an active account",
		"Reauthentication required",
		"gcloud auth login",
		"does not have permission",
		"invalid_grant",
	}
	networkMarkers = []string{
		"UNAVAILABLE",
		"DEADLINE_EXCEEDED",
		"INTERNAL",
		"timed out",
		"connection reset",
		"Connection reset",
		"Temporary failure in name resolution",
		"ServiceUnavailable",
	}
	capacityMarkers = []string{
		"RESOURCE_EXHAUSTED",
		"Quota exceeded",
	}
	notFoundMarkers = []string{
		"NOT_FOUND",
		"not found",
		"does not exist",
	}
	existsMarkers = []string{
		"ALREADY_EXISTS",
		"already exists",
	}

	// gateway status codes count only next to an HTTP marker
	gatewayStatus = regexp.MustCompile(`(?i)\b(http|status|code|error)[ :=]+50[234]\b`)
)

// policy decides which failures of an operation are worth retrying.
type policy struct {
	// capacityRetryable treats quota exhaustion as a transient condition.
	capacityRetryable bool
}

var (
	// defaultPolicy covers builds, secrets and queries.
	defaultPolicy = policy{capacityRetryable: true}

	// runtimePolicy covers Cloud Run deploys, where quota refusals are final.
	runtimePolicy = policy{}
)

func (p policy) transient(stderr string) bool {
	if containsAny(stderr, networkMarkers) || gatewayStatus.MatchString(stderr) {
		return true
	}
	return p.capacityRetryable && containsAny(stderr, capacityMarkers)
}

// classify maps a failed gcloud invocation onto a typed error using the
// default retry policy.
func classify(ctx context.Context, op string, err error) error {
	return classifyWith(ctx, op, defaultPolicy, err)
}

// classifyWith maps a failed gcloud invocation onto a typed error. The raw
// stderr is kept as the diagnostic so the operator sees gcloud's message.
func classifyWith(ctx context.Context, op string, p policy, err error) error {
	if err == nil {
		return nil
	}

	var nf *runner.NotFoundError
	if errors.As(err, &nf) {
		return types.NewError(types.KindEnvironment, op, err).WithHelp(helpInstall)
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.KindTransient, op, err)
		}
		return types.NewError(types.KindUnknown, op, err)
	}

	var exitErr *runner.ExitError
	if !errors.As(err, &exitErr) {
		return types.NewError(types.KindEnvironment, op, err)
	}
	stderr := exitErr.Stderr

	switch {
	case containsAny(stderr, existsMarkers):
		return types.NewError(types.KindRejected, op, ErrAlreadyExists).WithDiagnostic(stderr)
	case containsAny(stderr, authMarkers):
		return types.NewError(types.KindAuth, op, err).WithDiagnostic(stderr).WithHelp(helpLogin)
	case containsAny(stderr, notFoundMarkers):
		return types.NewError(types.KindRejected, op, ErrNotFound).WithDiagnostic(stderr)
	case p.transient(stderr):
		return types.NewError(types.KindTransient, op, err).WithDiagnostic(stderr)
	default:
		return types.NewError(types.KindRejected, op, err).WithDiagnostic(stderr)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err marks a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err marks a create collision.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
