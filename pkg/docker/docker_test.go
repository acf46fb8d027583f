package docker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStream_AuxAndError(t *testing.T) {
	stream := strings.Join([]string{
		`{"stream":"Step 1/2 : FROM python:3.12-slim\n"}`,
		`{"aux":{"ID":"sha256:abc"}}`,
		`{"stream":"Successfully built abc\n"}`,
	}, "\n")

	var out bytes.Buffer
	var ids []string
	err := ReadStream(strings.NewReader(stream), &out, func(m jsonmessage.JSONMessage) {
		var aux struct{ ID string }
		if DecodeAux(m, &aux) {
			ids = append(ids, aux.ID)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256:abc"}, ids)
	assert.Contains(t, out.String(), "Step 1/2")

	failing := `{"errorDetail":{"message":"pip install failed"},"error":"pip install failed"}`
	err = ReadStream(strings.NewReader(failing), io.Discard, nil)
	var jerr *jsonmessage.JSONError
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, "pip install failed", jerr.Message)

	legacy := `{"error":"denied: requested access to the resource is denied"}`
	err = ReadStream(strings.NewReader(legacy), io.Discard, nil)
	require.True(t, errors.As(err, &jerr))
	assert.Contains(t, jerr.Message, "denied")
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		code int
		kind types.ErrorKind
	}{
		{"unauthorized: authentication required", 0, types.KindAuth},
		{"denied: Permission \"artifactregistry.repositories.uploadArtifacts\" denied", 0, types.KindAuth},
		{"read tcp 10.0.0.2:5000: connection reset by peer", 0, types.KindTransient},
		{"received unexpected HTTP status: 503 Service Unavailable", 0, types.KindTransient},
		{"name unknown: repository not found", 0, types.KindRejected},
		{"something odd", 0, types.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := ClassifyMessage("docker push", &jsonmessage.JSONError{Code: tt.code, Message: tt.msg})
			assert.Equal(t, tt.kind, types.KindOf(err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify("op", nil))
	assert.Equal(t, types.KindAuth, types.KindOf(Classify("op", fmt.Errorf("push: %w", cerrdefs.ErrUnauthenticated))))
	assert.Equal(t, types.KindTransient, types.KindOf(Classify("op", cerrdefs.ErrUnavailable)))
	assert.Equal(t, types.KindTransient, types.KindOf(Classify("op", io.ErrUnexpectedEOF)))

	typed := types.NewError(types.KindBuild, "docker build", errors.New("x"))
	assert.Same(t, typed, Classify("op", typed))
}
