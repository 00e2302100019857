package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const report = `{"sessions":4,"stats":{"p95_duration_ms":12,"skipped":1},"transactions":10}`

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"empty query", "", report},
		{"scalar", "stats.p95_duration_ms", "12"},
		{"projection", "{s: sessions, t: transactions}", "{\n  \"s\": 4,\n  \"t\": 10\n}"},
		{"missing", "nope", "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply([]byte(report), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestApply_ShellCommand(t *testing.T) {
	out, err := Apply([]byte(report), "$(cat)")
	require.NoError(t, err)
	assert.Equal(t, report, string(out))

	_, err = Apply([]byte(report), "$(exit 3)")
	assert.Error(t, err)
}

func TestApply_Errors(t *testing.T) {
	_, err := Apply([]byte("not json"), "a")
	assert.Error(t, err)

	_, err = Apply([]byte(report), "stats.[")
	assert.Error(t, err)
}

func TestQueryKinds(t *testing.T) {
	assert.True(t, IsShellCommand("$(jq .)"))
	assert.False(t, IsShellCommand("stats.skipped"))
	assert.True(t, IsValidJMESPath("stats.skipped"))
	assert.False(t, IsValidJMESPath("stats.["))
}
