package format

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rzbill/aideploy/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRenderError_StepKindDiagnosticHelp(t *testing.T) {
	EnableColor(false)

	cause := types.NewError(types.KindRejected, "gcloud run deploy", errors.New("exit status 1")).
		WithDiagnostic("ERROR: (gcloud.run.deploy) memory: Invalid value").
		WithHelp("check deploy.memory")
	err := &types.StepError{Step: "deploy", Err: cause}

	var buf bytes.Buffer
	RenderError(&buf, err)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, `Error: step "deploy": rejected by the platform [RuntimeRejection]`))
	assert.Contains(t, out, "gcloud run deploy: exit status 1")
	assert.Contains(t, out, "│ ERROR: (gcloud.run.deploy)")
	assert.Contains(t, out, "hint: check deploy.memory")
	assert.Equal(t, 1, strings.Count(out, "Invalid value"))
}

func TestRenderError_PlainError(t *testing.T) {
	EnableColor(false)
	var buf bytes.Buffer
	RenderError(&buf, errors.New("boom"))
	assert.Equal(t, "Error: unexpected error [UnknownError]\n  boom\n", buf.String())
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"aaa bbb", "ccc"}, wrap("aaa bbb ccc", 8))
	assert.Equal(t, []string{"abcdef", "gh"}, wrap("abcdefgh", 6))
	assert.Equal(t, []string{"short"}, wrap("short", 80))
}
