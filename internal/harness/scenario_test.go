package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one create"
steps:
  - type: SquareCreated
    payload: { squareId: a, x: 0, y: 0, size: 1, color: red }
assertions:
  - type: square_count
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, DefaultAggregate, s.Aggregate)
	assert.Zero(t, s.SnapshotInterval)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "SquareCreated", s.Steps[0].Type)
	assert.Nil(t, s.Steps[0].Version)
	assert.Equal(t, "a", s.Steps[0].Payload["squareId"])
	require.Len(t, s.Assertions, 1)
	require.NotNil(t, s.Assertions[0].Count)
	assert.Equal(t, 1, *s.Assertions[0].Count)
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Aggregate)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "flow_token: x\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: `
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: version, version: 1}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: version, version: 1}]
`,
			wantErr: "description is required",
		},
		{
			name: "no steps",
			yaml: `
name: n
description: d
assertions: [{type: version, version: 1}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "negative interval",
			yaml: `
name: n
description: d
snapshot_interval: -2
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: version, version: 1}]
`,
			wantErr: "snapshot_interval must be >= 1",
		},
		{
			name: "step without payload",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted}]
assertions: [{type: version, version: 1}]
`,
			wantErr: "steps[0]: payload is required",
		},
		{
			name: "bad expect_error",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}, expect_error: boom}]
assertions: [{type: version, version: 1}]
`,
			wantErr: "expect_error must be conflict or validation",
		},
		{
			name: "unknown assertion",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: trace_contains}]
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name: "square needs expect or absent",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: square, id: a}]
`,
			wantErr: "expect or absent is required",
		},
		{
			name: "state_at needs a check",
			yaml: `
name: n
description: d
steps: [{type: SquareDeleted, payload: {squareId: a}}]
assertions: [{type: state_at, at: 1}]
`,
			wantErr: "count or version is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
