package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/filter"
	"github.com/studiowebux/replay-client/internal/parser"
	"github.com/studiowebux/replay-client/internal/replay"
	"github.com/studiowebux/replay-client/internal/types"
)

const (
	// ConfigName is the config file base name (replay.yaml)
	ConfigName = "replay"
	// EnvPrefix prefixes environment overrides, e.g. REPLAY_SLEEP_LIMIT
	EnvPrefix = "REPLAY"
)

// Option keys, shared by flags, environment and config file
const (
	KeyNoProxy         = "no-proxy"
	KeyStrict          = "strict"
	KeyKeys            = "keys"
	KeyKeyFormat       = "key-format"
	KeyRate            = "rate"
	KeyRepeat          = "repeat"
	KeySleepLimit      = "sleep-limit"
	KeyThreads         = "threads"
	KeyLoadParallelism = "load-parallelism"
	KeyConnectRetries  = "connect-retries"
	KeyTimeout         = "timeout"
	KeyInsecure        = "insecure"
	KeyOutput          = "output"
	KeyQuery           = "query"
	KeyHistory         = "history"
	KeyVerbose         = "verbose"
)

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
)

// RunConfig is the resolved configuration of a replay run
type RunConfig struct {
	NoProxy         bool
	Strict          bool
	Keys            []string
	KeyFormat       string
	Rate            int
	Repeat          int
	SleepLimit      time.Duration // Flag value is in microseconds
	Threads         int
	LoadParallelism int
	ConnectRetries  int
	Timeout         time.Duration
	Insecure        bool
	Output          string
	Query           string
	History         bool
	Verbose         string
}

// NewViper creates a viper instance with defaults, the REPLAY_ environment
// prefix and the optional replay.yaml config file search paths
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if ConfigDir != "" {
		v.AddConfigPath(ConfigDir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return v
}

func setDefaultValues(v *viper.Viper) {
	v.SetDefault(KeyNoProxy, false)
	v.SetDefault(KeyStrict, false)
	v.SetDefault(KeyKeys, []string{})
	v.SetDefault(KeyKeyFormat, types.DefaultKeyFormat)
	v.SetDefault(KeyRate, 0)
	v.SetDefault(KeyRepeat, 1)
	v.SetDefault(KeySleepLimit, replay.DefaultSleepLimit.Microseconds())
	v.SetDefault(KeyThreads, replay.DefaultPoolSize)
	v.SetDefault(KeyLoadParallelism, parser.DefaultLoadParallelism)
	v.SetDefault(KeyConnectRetries, 0)
	v.SetDefault(KeyTimeout, "10s")
	v.SetDefault(KeyInsecure, true)
	v.SetDefault(KeyOutput, OutputText)
	v.SetDefault(KeyQuery, "")
	v.SetDefault(KeyHistory, false)
	v.SetDefault(KeyVerbose, "info")
}

// Load reads the config file, if any, binds flags and resolves the run
// configuration. Flags win over environment, environment over file.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*RunConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	cfg := &RunConfig{
		NoProxy:         v.GetBool(KeyNoProxy),
		Strict:          v.GetBool(KeyStrict),
		Keys:            v.GetStringSlice(KeyKeys),
		KeyFormat:       v.GetString(KeyKeyFormat),
		Rate:            v.GetInt(KeyRate),
		Repeat:          v.GetInt(KeyRepeat),
		SleepLimit:      time.Duration(v.GetInt64(KeySleepLimit)) * time.Microsecond,
		Threads:         v.GetInt(KeyThreads),
		LoadParallelism: v.GetInt(KeyLoadParallelism),
		ConnectRetries:  v.GetInt(KeyConnectRetries),
		Timeout:         v.GetDuration(KeyTimeout),
		Insecure:        v.GetBool(KeyInsecure),
		Output:          strings.ToLower(v.GetString(KeyOutput)),
		Query:           v.GetString(KeyQuery),
		History:         v.GetBool(KeyHistory),
		Verbose:         v.GetString(KeyVerbose),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the run configuration
func (c *RunConfig) Validate() error {
	if c.Rate < 0 {
		return fmt.Errorf("rate must be non-negative, got %d", c.Rate)
	}
	if c.Repeat < 1 {
		return fmt.Errorf("repeat must be at least 1, got %d", c.Repeat)
	}
	if c.SleepLimit <= 0 {
		return fmt.Errorf("sleep limit must be positive, got %s", c.SleepLimit)
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	if c.LoadParallelism < 1 {
		return fmt.Errorf("load parallelism must be at least 1, got %d", c.LoadParallelism)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("connect retries must be non-negative, got %d", c.ConnectRetries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch c.Output {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", c.Output, OutputText, OutputJSON)
	}
	if c.Query != "" && !filter.IsShellCommand(c.Query) && !filter.IsValidJMESPath(c.Query) {
		return fmt.Errorf("invalid query %q: not a JMESPath expression or $(command)", c.Query)
	}
	if _, err := errata.ParseLevel(c.Verbose); err != nil {
		return err
	}
	return nil
}

// Mode returns the run mode name stored in history
func (c *RunConfig) Mode() string {
	if c.NoProxy {
		return "no-proxy"
	}
	return "proxy"
}
