package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds connect and each transaction round trip
	DefaultTimeout = 10 * time.Second
	// TCPKeepAliveInterval is the keep-alive probe interval on replay connections
	TCPKeepAliveInterval = 30 * time.Second
	// ConnectRetryInterval is the first backoff interval between connect attempts
	ConnectRetryInterval = 100 * time.Millisecond
)

const tracerName = "github.com/studiowebux/replay-client/internal/executor"

// Tally counts what a runner did with a session's transactions
type Tally struct {
	Sent               int // Transactions that got a response
	Failed             int // Transactions that failed on the wire or were not sent
	VerificationFailed int // Responses that violated the recorded expectations
}

// Runner executes the transactions of one session over one protocol
type Runner interface {
	// Connect opens the connection to target (host:port)
	Connect(ctx context.Context, target string) error
	// RunTransactions sends txns strictly in order, reconnecting to target
	// when the connection is lost
	RunTransactions(ctx context.Context, txns []*types.Transaction, target string) (Tally, errata.Errata)
	// Close releases the connection
	Close() error
}

// RunnerFactory creates the runner for a protocol variant
type RunnerFactory func(v types.Variant, opts *Options) Runner

// Options configures session execution
type Options struct {
	// UseProxyRequestDirectives means no proxy is on the path
	UseProxyRequestDirectives bool
	Timeout                   time.Duration
	ConnectRetries            int
	InsecureSkipVerify        bool
	Names                     *intern.Table // Frozen interning table, for verification
	NewRunner                 RunnerFactory // Defaults to DefaultRunner
}

func (o *Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// Result is the outcome of one session
type Result struct {
	Skipped    bool
	Protocol   types.Protocol
	Target     string
	ConnectErr error
	Tally
	Errata   errata.Errata
	Started  time.Time
	Duration time.Duration
}

// DefaultRunner maps a protocol variant to its wire runner
func DefaultRunner(v types.Variant, opts *Options) Runner {
	switch v.Protocol {
	case types.ProtocolHTTP2:
		return newH2Runner(v.SNI, opts)
	case types.ProtocolTLS:
		return newConnRunner(true, v.SNI, opts)
	default:
		return newConnRunner(false, "", opts)
	}
}

// RunSession replays ssn against target (plain) or targetHTTPS (TLS and
// HTTP/2), depending on the session's protocol variant.
//
// HTTP/2 sessions are skipped when no proxy is on the path: HTTP/2 is only
// replayed towards a proxy that terminates it. A skipped session is neither a
// success nor a failure. A connect failure aborts the session only.
func RunSession(ctx context.Context, ssn *types.Session, target, targetHTTPS string, opts *Options) (res Result) {
	if opts == nil {
		opts = &Options{}
	}
	res = Result{Protocol: ssn.Variant.Protocol, Started: time.Now()}
	defer func() { res.Duration = time.Since(res.Started) }()

	res.Errata.Diagf(`Starting session "%s":%d protocol=%s.`, ssn.Path, ssn.Line, ssn.Variant.Protocol)

	switch ssn.Variant.Protocol {
	case types.ProtocolHTTP2:
		if opts.UseProxyRequestDirectives {
			res.Errata.Diagf(`Ignoring HTTP/2 traffic without a proxy, "%s":%d`, ssn.Path, ssn.Line)
			res.Skipped = true
			return res
		}
		res.Target = targetHTTPS
	case types.ProtocolTLS:
		res.Target = targetHTTPS
		res.Errata.Diagf("Connecting via TLS.")
	default:
		res.Target = target
		res.Errata.Diagf("Connecting via HTTP.")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "replay.session",
		trace.WithAttributes(
			attribute.String("replay.path", ssn.Path),
			attribute.Int("replay.line", ssn.Line),
			attribute.String("replay.protocol", ssn.Variant.Protocol.String()),
			attribute.String("replay.target", res.Target),
			attribute.Int("replay.transactions", len(ssn.Transactions)),
		))
	defer span.End()

	newRunner := opts.NewRunner
	if newRunner == nil {
		newRunner = DefaultRunner
	}
	runner := newRunner(ssn.Variant, opts)
	defer runner.Close()

	if err := connect(ctx, runner, res.Target, opts.ConnectRetries); err != nil {
		res.ConnectErr = err
		res.Errata.Errorf(`Failed to connect to %s for session "%s":%d: %v`, res.Target, ssn.Path, ssn.Line, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return res
	}

	tally, e := runner.RunTransactions(ctx, ssn.Transactions, res.Target)
	res.Tally = tally
	res.Errata.Note(e)

	span.SetAttributes(
		attribute.Int("replay.sent", tally.Sent),
		attribute.Int("replay.failed", tally.Failed),
		attribute.Int("replay.verification_failed", tally.VerificationFailed),
	)
	if tally.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d transactions failed", tally.Failed))
	}
	return res
}

// connect runs runner.Connect with up to retries additional attempts under
// exponential backoff
func connect(ctx context.Context, runner Runner, target string, retries int) error {
	op := func() error {
		return runner.Connect(ctx, target)
	}
	if retries <= 0 {
		return op()
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = ConnectRetryInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backOff, uint64(retries)), ctx))
}

// FormatDuration formats duration in milliseconds to human-readable string
func FormatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.2fs", seconds)
}
