package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.Int(KeyRate, 0, "")
	fs.Int(KeyRepeat, 1, "")
	fs.BoolP(KeyStrict, "s", false, "")
	fs.StringArrayP(KeyKeys, "k", []string{}, "")
	fs.Int64(KeySleepLimit, 500000, "")
	fs.StringP(KeyOutput, "o", OutputText, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), nil)
	require.NoError(t, err)

	assert.False(t, cfg.NoProxy)
	assert.Equal(t, "{field.uuid}", cfg.KeyFormat)
	assert.Equal(t, 0, cfg.Rate)
	assert.Equal(t, 1, cfg.Repeat)
	assert.Equal(t, 500*time.Millisecond, cfg.SleepLimit)
	assert.Equal(t, 100, cfg.Threads)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, OutputText, cfg.Output)
	assert.Equal(t, "proxy", cfg.Mode())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate: 100
repeat: 3
threads: 8
no-proxy: true
timeout: 2s
`), 0644))
	t.Setenv("REPLAY_REPEAT", "4")
	t.Setenv("REPLAY_THREADS", "16")

	v := NewViper()
	v.SetConfigFile(path)
	cfg, err := Load(v, testFlags(t, "--repeat=5", "-s", "-k", "GET:/a", "-k", "GET:/b", "--sleep-limit=2000"))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Rate, "config file")
	assert.Equal(t, 16, cfg.Threads, "environment beats config file")
	assert.Equal(t, 5, cfg.Repeat, "flag beats environment")
	assert.True(t, cfg.NoProxy)
	assert.Equal(t, "no-proxy", cfg.Mode())
	assert.True(t, cfg.Strict)
	assert.Equal(t, []string{"GET:/a", "GET:/b"}, cfg.Keys)
	assert.Equal(t, 2*time.Millisecond, cfg.SleepLimit)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate: [ unterminated"), 0644))

	v := NewViper()
	v.SetConfigFile(path)
	_, err := Load(v, nil)
	assert.Error(t, err)
}

func TestRunConfig_Validate(t *testing.T) {
	valid := func() *RunConfig {
		return &RunConfig{
			Repeat:          1,
			SleepLimit:      time.Millisecond,
			Threads:         1,
			LoadParallelism: 1,
			Timeout:         time.Second,
			Output:          OutputJSON,
			Verbose:         "diag",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"negative rate", func(c *RunConfig) { c.Rate = -1 }},
		{"zero repeat", func(c *RunConfig) { c.Repeat = 0 }},
		{"zero sleep limit", func(c *RunConfig) { c.SleepLimit = 0 }},
		{"zero threads", func(c *RunConfig) { c.Threads = 0 }},
		{"zero load parallelism", func(c *RunConfig) { c.LoadParallelism = 0 }},
		{"negative retries", func(c *RunConfig) { c.ConnectRetries = -1 }},
		{"zero timeout", func(c *RunConfig) { c.Timeout = 0 }},
		{"unknown output", func(c *RunConfig) { c.Output = "xml" }},
		{"bad query", func(c *RunConfig) { c.Query = "stats.[" }},
		{"bad verbosity", func(c *RunConfig) { c.Verbose = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Query = "$(jq .sessions)"
	assert.NoError(t, c.Validate())
}

func TestInitialize(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, Initialize())
	assert.Equal(t, filepath.Join(home, ".replay-client"), ConfigDir)
	assert.Equal(t, filepath.Join(home, ".replay-client", "replay-client.db"), DatabasePath)

	info, err := os.Stat(ConfigDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
