package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/studiowebux/replay-client/internal/cli"
	"github.com/studiowebux/replay-client/internal/config"
	"github.com/studiowebux/replay-client/internal/executor"
	"github.com/studiowebux/replay-client/internal/parser"
	"github.com/studiowebux/replay-client/internal/replay"
	"github.com/studiowebux/replay-client/internal/telemetry"
	"github.com/studiowebux/replay-client/internal/types"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replay-client",
	Short: "Replay recorded HTTP traffic against a proxy or origin",
	Long: `replay-client replays recorded HTTP, HTTPS and HTTP/2 sessions against target
servers, reproducing the recorded timing at a configurable rate.

Options can also be set in replay.yaml (searched in ., ./configs and
~/.replay-client) or with REPLAY_* environment variables, e.g. REPLAY_RATE=500.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <dir> <http-targets> <https-targets>",
	Short: "Replay every session found in a directory of replay files",
	Long: `Replay every session found in a directory of replay files.

Arguments:
  <dir>            Directory containing replay files (.yaml, .yml, .json).
  <http-targets>   host:port for http requests. Can be a comma separated list.
  <https-targets>  host:port for https requests. Can be a comma separated list.

Examples:
  replay-client run ./replays 127.0.0.1:8080 127.0.0.1:8443
  replay-client run ./replays proxy:80 proxy:443 --rate 200 --repeat 3
  replay-client run ./replays origin:80 origin:443 --no-proxy --strict
  replay-client run ./replays a:80,b:80 a:443 -k 7a1f... -k 93bc...
  replay-client run ./replays :80 :443 --output json --query stats.p95_duration_ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 3 {
			return fmt.Errorf("not enough arguments for %q command\n\n%s", cmd.Name(), cmd.UsageString())
		}
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return runReplay(cmd, args)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past replay runs recorded with --history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return cli.History(cli.HistoryOptions{
			DatabasePath: config.DatabasePath,
			Limit:        flagHistoryLimit,
			Stdout:       cmd.OutOrStdout(),
		})
	},
}

// Flags for history
var (
	flagHistoryLimit int
)

func init() {
	rootCmd.PersistentFlags().String(config.KeyVerbose, "info", "Verbosity: error, warn, info or diag")

	f := runCmd.Flags()
	f.Bool(config.KeyNoProxy, false, "Replay proxy-request directives and expect server-response (no proxy on the path)")
	f.BoolP(config.KeyStrict, "s", false, "Verify every response, not only those with verification rules")
	f.StringArrayP(config.KeyKeys, "k", []string{}, "Only replay transactions with this key, can be repeated")
	f.String(config.KeyKeyFormat, types.DefaultKeyFormat, "Transaction key format ({method}, {url}, {scheme}, {host}, {path}, {field.<name>})")
	f.Int(config.KeyRate, 0, "Target transactions per second (0 replays as fast as possible)")
	f.Int(config.KeyRepeat, 1, "Number of times to replay the data set")
	f.Int64(config.KeySleepLimit, replay.DefaultSleepLimit.Microseconds(), "Longest single pacing sleep, in microseconds")
	f.Int(config.KeyThreads, replay.DefaultPoolSize, "Number of replay workers")
	f.Int(config.KeyLoadParallelism, parser.DefaultLoadParallelism, "Number of replay files loaded concurrently")
	f.Int(config.KeyConnectRetries, 0, "Connect retries per session, with exponential backoff")
	f.Duration(config.KeyTimeout, executor.DefaultTimeout, "Connect and per-transaction timeout")
	f.Bool(config.KeyInsecure, true, "Skip TLS certificate verification")
	f.StringP(config.KeyOutput, "o", config.OutputText, "Report format (text/json)")
	f.StringP(config.KeyQuery, "q", "", "JMESPath query or $(command) applied to the JSON report")
	f.Bool(config.KeyHistory, false, "Record the run in the history database")

	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", cli.DefaultHistoryLimit, "Number of runs to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	v := config.NewViper()
	cfg, err := config.Load(v, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := cli.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "replay-client")
	if err != nil {
		logger.Warn("failed to set up tracing", "error", err)
	}
	defer shutdown(context.Background())

	_, err = cli.Run(ctx, cli.RunOptions{
		Directory:    args[0],
		HTTPTargets:  args[1],
		HTTPSTargets: args[2],
		Config:       cfg,
		DatabasePath: config.DatabasePath,
		Stdout:       cmd.OutOrStdout(),
		Logger:       logger,
	})
	return err
}
