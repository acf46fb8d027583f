package docker

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rzbill/aideploy/pkg/types"
)

const helpDaemon = "start the Docker daemon (or set DOCKER_HOST), or re-run with `--strategy remote`"

// Classify maps a Docker API error onto an error kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case client.IsErrConnectionFailed(err):
		return types.NewError(types.KindEnvironment, op, err).WithHelp(helpDaemon)
	case cerrdefs.IsUnauthorized(err), cerrdefs.IsPermissionDenied(err):
		return types.NewError(types.KindAuth, op, err)
	case cerrdefs.IsUnavailable(err), cerrdefs.IsDeadlineExceeded(err), cerrdefs.IsInternal(err):
		return types.NewError(types.KindTransient, op, err)
	case cerrdefs.IsInvalidArgument(err), cerrdefs.IsNotFound(err):
		return types.NewError(types.KindRejected, op, err)
	case IsTransientNetwork(err):
		return types.NewError(types.KindTransient, op, err)
	default:
		return types.NewError(types.KindUnknown, op, err)
	}
}

// ClassifyMessage maps an error carried inside a push message stream. The
// engine reports registry failures as plain text, so the message decides.
func ClassifyMessage(op string, jerr *jsonmessage.JSONError) error {
	msg := jerr.Message
	lower := strings.ToLower(msg)
	kind := types.KindUnknown
	switch {
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "denied"),
		strings.Contains(lower, "authentication required"),
		strings.Contains(lower, "authentication is required"),
		strings.Contains(lower, "no basic auth credentials"),
		jerr.Code == 401, jerr.Code == 403:
		kind = types.KindAuth
	case strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "i/o timeout"),
		strings.Contains(lower, "503 service unavailable"),
		strings.Contains(lower, "502 bad gateway"),
		strings.Contains(lower, "500 internal server error"),
		strings.Contains(lower, "toomanyrequests"),
		jerr.Code >= 500:
		kind = types.KindTransient
	case strings.Contains(lower, "name unknown"),
		strings.Contains(lower, "manifest invalid"):
		kind = types.KindRejected
	}
	return types.NewError(kind, op, errors.New(msg)).WithDiagnostic(msg)
}

// IsTransientNetwork reports connection-level failures that are safe to retry.
func IsTransientNetwork(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
