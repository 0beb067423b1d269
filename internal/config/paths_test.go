package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

const samplePaths = `
/services/food/barn:
  children: 1
  cancel_timeout: 0.25
  alerter:
    email:
      email: ops@example.com, oncall@example.com
      body: Hey, fix this!
    slack:
      - channel: "#oncall"
      - token: xoxb-1
/services/food/pizza/:
  cancel_timeout: "2"
/services/watched-only:
`

func TestParsePaths(t *testing.T) {
	paths, err := ParsePaths([]byte(samplePaths), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, paths, 3)

	barn := paths["/services/food/barn"]
	require.NotNil(t, barn.Children)
	assert.Equal(t, 1, *barn.Children)
	assert.Equal(t, 250*time.Millisecond, barn.CancelTimeout)
	assert.Equal(t, model.Params{
		"email": "ops@example.com, oncall@example.com",
		"body":  "Hey, fix this!",
	}, barn.Alerter["email"])
	assert.Equal(t, model.Params{"channel": "#oncall", "token": "xoxb-1"}, barn.Alerter["slack"])

	pizza, ok := paths["/services/food/pizza"]
	require.True(t, ok, "trailing slash is normalised")
	assert.Nil(t, pizza.Children)
	assert.Equal(t, 2*time.Second, pizza.CancelTimeout)

	watched := paths["/services/watched-only"]
	assert.Nil(t, watched.Children)
	assert.Zero(t, watched.CancelTimeout)
	assert.Empty(t, watched.Alerter)
}

func TestParsePaths_CancelTimeoutCoercion(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "1", want: time.Second},
		{value: "0.5", want: 500 * time.Millisecond},
		{value: `"1.5"`, want: 1500 * time.Millisecond},
		{value: "soon", want: 0},
		{value: "-3", want: 0},
		{value: "[1, 2]", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			doc := "/svc:\n  cancel_timeout: " + tt.value + "\n"
			paths, err := ParsePaths([]byte(doc), zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths["/svc"].CancelTimeout)
		})
	}
}

func TestParsePaths_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "string children", doc: "/svc:\n  children: \"1\"\n"},
		{name: "float children", doc: "/svc:\n  children: 1.5\n"},
		{name: "relative path", doc: "svc:\n  children: 1\n"},
		{name: "dotted segment", doc: "/svc.v1:\n  children: 1\n"},
		{name: "scalar params", doc: "/svc:\n  alerter:\n    email: ops@example.com\n"},
		{name: "duplicate after normalising", doc: "/svc:\n  children: 1\n/svc/:\n  children: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePaths([]byte(tt.doc), zap.NewNop())
			require.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *InvalidConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.NotEmpty(t, cfgErr.Path)
		})
	}
}

func TestParsePaths_Malformed(t *testing.T) {
	_, err := ParsePaths([]byte("/svc: [unclosed"), zap.NewNop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadPaths(t *testing.T) {
	paths, err := LoadPaths("", zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, paths)

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	paths, err = LoadPaths(empty, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, paths)

	file := filepath.Join(dir, "paths.yaml")
	require.NoError(t, os.WriteFile(file, []byte(samplePaths), 0o644))
	paths, err = LoadPaths(file, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	_, err = LoadPaths(filepath.Join(dir, "missing.yaml"), zap.NewNop())
	require.Error(t, err)
}
