package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_YAML(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/url_request.yaml")
	require.NoError(t, err)

	assert.Equal(t, "url_request_method", scenario.Name)
	assert.Equal(t, 10*time.Second, scenario.GateTimeout())
	require.Len(t, scenario.Steps, 5)
	assert.Equal(t, "verify", scenario.Steps[0].Kind())
	assert.Equal(t, "invoke", scenario.Steps[1].Kind())
	assert.Equal(t, "POST", scenario.Steps[1].Invoke.Args["method"])
	assert.Equal(t, "start", scenario.Steps[3].Kind())
	assert.True(t, scenario.Steps[4].Verify.Await)
	assert.Equal(t, "2s", scenario.Steps[4].Verify.Timeout)

	subj, ok := scenario.Subject("request")
	require.True(t, ok)
	assert.Equal(t, "0x600000c10", subj.Handle)
	assert.Equal(t, "request", subj.Name)
}

func TestLoadScenario_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := LoadScenario("testdata/scenarios/url_request.yaml")
	require.NoError(t, err)
	fromCUE, err := LoadScenario("testdata/scenarios/url_request.cue")
	require.NoError(t, err)

	assert.Equal(t, "url_request_method_cue", fromCUE.Name)
	assert.Equal(t, fromYAML.Subjects, fromCUE.Subjects)
	assert.Equal(t, fromYAML.Steps, fromCUE.Steps)
}

func TestLoadScenario_EmptyExpectIsAllowed(t *testing.T) {
	path := writeScenario(t, "empty.yaml", `
name: empty_summary
description: "A subject with nothing to show"
subjects:
  obj: { handle: "0x2" }
steps:
  - verify: { subject: obj, type: NSObject, expect: "" }
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	require.NotNil(t, scenario.Steps[0].Verify.Expect)
	assert.Equal(t, "", *scenario.Steps[0].Verify.Expect)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnsupportedExtension(t *testing.T) {
	path := writeScenario(t, "scenario.json", `{}`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scenario file extension")
}

func TestLoadScenario_UnknownYAMLField(t *testing.T) {
	path := writeScenario(t, "unknown.yaml", `
name: unknown
description: "Has a typo"
subjects:
  obj: { handle: "0x2" }
steps:
  - verify: { subject: obj, type: NSObject, expected: "x" }
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_CUESchemaViolation(t *testing.T) {
	path := writeScenario(t, "bad.cue", `
name: "bad"
description: "verify without a type"
subjects: obj: handle: "0x2"
steps: [{verify: {subject: "obj", expect: "x"}}]
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")
}

func TestLoadScenario_CUESyntaxError(t *testing.T) {
	path := writeScenario(t, "broken.cue", `name: "broken`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse CUE")
}

func TestValidateScenario(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "x"
steps:
  - verify: { subject: obj, type: T, expect: "" }`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: x
steps:
  - verify: { subject: obj, type: T, expect: "" }`,
			wantErr: "description is required",
		},
		{
			name: "no steps",
			content: `
name: x
description: "x"`,
			wantErr: "steps list is required",
		},
		{
			name: "bad scenario timeout",
			content: `
name: x
description: "x"
timeout: soon
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, type: T, expect: "" }`,
			wantErr: "must be a positive duration",
		},
		{
			name: "subject without handle",
			content: `
name: x
description: "x"
subjects: { obj: { name: "thing" } }
steps:
  - verify: { subject: obj, type: T, expect: "" }`,
			wantErr: "handle is required",
		},
		{
			name: "two kinds in one step",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, type: T, expect: "" }
    invoke: { subject: obj, action: poke }`,
			wantErr: "exactly one of verify, invoke, start",
		},
		{
			name: "unknown subject",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: other, type: T, expect: "" }`,
			wantErr: `unknown subject "other"`,
		},
		{
			name: "missing expect",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, type: T }`,
			wantErr: "expect is required",
		},
		{
			name: "missing type",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, expect: "" }`,
			wantErr: "type is required",
		},
		{
			name: "await before start",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, type: T, expect: "", await: true }
  - start: { subject: obj, action: load }`,
			wantErr: "await requires an earlier start step",
		},
		{
			name: "timeout without await",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - verify: { subject: obj, type: T, expect: "", timeout: 1s }`,
			wantErr: "timeout only applies to awaited checkpoints",
		},
		{
			name: "action without name",
			content: `
name: x
description: "x"
subjects: { obj: { handle: "0x2" } }
steps:
  - invoke: { subject: obj }`,
			wantErr: "action is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, "scenario.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
