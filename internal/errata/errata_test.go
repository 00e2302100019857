package errata

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrata_ZeroValueIsOK(t *testing.T) {
	var e Errata
	assert.True(t, e.IsOK())
	assert.Equal(t, 0, e.Len())
	assert.NoError(t, e.Err())
	assert.Equal(t, SeverityDiag, e.Severity())
}

func TestErrata_SeverityAndErr(t *testing.T) {
	var e Errata
	e.Diagf("scanning %s", "a.yaml")
	e.Warnf("bad connection-time %d", 0)
	assert.True(t, e.IsOK())
	assert.Equal(t, SeverityWarn, e.Severity())

	e.Errorf("no %s node", "proxy-request")
	assert.False(t, e.IsOK())
	assert.Equal(t, SeverityError, e.Severity())
	assert.Equal(t, 1, e.Count(SeverityError))
	assert.Equal(t, 1, e.Count(SeverityWarn))

	err := e.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proxy-request node")
	assert.NotContains(t, err.Error(), "connection-time")
}

func TestErrata_Note(t *testing.T) {
	var a, b Errata
	a.Infof("first")
	b.Errorf("second")
	a.Note(b)

	require.Len(t, a.Notes(), 2)
	assert.Equal(t, "first", a.Notes()[0].Text)
	assert.Equal(t, "second", a.Notes()[1].Text)
	assert.False(t, a.IsOK())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"error", slog.LevelError, false},
		{"WARN", slog.LevelWarn, false},
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"diag", LevelDiag, false},
		{"chatty", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrata_LogRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var e Errata
	e.Diagf("hidden diag")
	e.Infof("hidden info")
	e.Warnf("shown warning")
	e.Errorf("shown error")
	e.Log(logger)

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "shown warning")
	assert.Contains(t, out, "shown error")
}
