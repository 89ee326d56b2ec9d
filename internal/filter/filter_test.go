package filter

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgets = `{"items":[{"name":"a","status":"active"},{"name":"b","status":"retired"},{"name":"c","status":"active"}]}`

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		query   string
		want    string
		wantErr string
	}{
		{name: "passthrough", want: widgets},
		{name: "query only", query: "items[0].name", want: `"a"`},
		{name: "filter then query", filter: "items[?status=='active']", query: "[].name", want: "[\n  \"a\",\n  \"c\"\n]"},
		{name: "missing field", query: "nothing", want: "null"},
		{name: "bad expression", query: "items[", wantErr: "invalid JMESPath expression"},
		{name: "bad filter", filter: "items[?", wantErr: "failed to apply filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(context.Background(), []byte(widgets), tt.filter, tt.query)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestApply_InvalidJSON(t *testing.T) {
	_, err := Apply(context.Background(), []byte("<html>"), "", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestApply_ShellQuery(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	got, err := Apply(context.Background(), []byte(widgets), "items[?status=='retired']", "$(wc -c)")
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	_, err = Apply(context.Background(), []byte(widgets), "", "$(exit 3)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute query shell command")
}

func TestSearch_UsesWireNames(t *testing.T) {
	type widget struct {
		Name  string   `json:"name"`
		Tags  []string `json:"tags"`
		Price float64  `json:"price"`
	}

	got, err := Search([]widget{{Name: "a", Tags: []string{"x"}, Price: 2}, {Name: "b", Price: 9}}, "[?price > `5`].name")
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, got)

	_, err = Search(widget{}, "[")
	assert.Error(t, err)
}

func TestExpressionHelpers(t *testing.T) {
	assert.True(t, IsValidJMESPath("items[].name"))
	assert.False(t, IsValidJMESPath("items[."))
	assert.True(t, IsShellCommand("$(jq .)"))
	assert.False(t, IsShellCommand("items"))
}
