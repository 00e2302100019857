package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/types"
	"golang.org/x/net/http2"
)

// h2Runner replays transactions as streams of one HTTP/2 client connection
type h2Runner struct {
	opts      *Options
	sni       string
	transport *http2.Transport
	conn      net.Conn
	cc        *http2.ClientConn
}

func newH2Runner(sni string, opts *Options) *h2Runner {
	return &h2Runner{
		opts: opts,
		sni:  sni,
		transport: &http2.Transport{
			ReadIdleTimeout: opts.timeout(),
			PingTimeout:     opts.timeout(),
		},
	}
}

// Connect dials target over TLS, negotiates h2 through ALPN and starts the
// HTTP/2 client connection
func (r *h2Runner) Connect(ctx context.Context, target string) error {
	r.Close()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout:   r.opts.timeout(),
			KeepAlive: TCPKeepAliveInterval,
		},
		Config: tlsConfig(r.sni, target, r.opts.InsecureSkipVerify, []string{http2.NextProtoTLS}),
	}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	if proto := conn.(*tls.Conn).ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
		conn.Close()
		return fmt.Errorf("failed to negotiate h2 with %s: got %q", target, proto)
	}

	cc, err := r.transport.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start h2 connection to %s: %w", target, err)
	}
	r.conn = conn
	r.cc = cc
	return nil
}

// RunTransactions sends each transaction in order, one stream at a time
func (r *h2Runner) RunTransactions(ctx context.Context, txns []*types.Transaction, target string) (Tally, errata.Errata) {
	var tally Tally
	var e errata.Errata

	for i, txn := range txns {
		if err := ctx.Err(); err != nil {
			tally.Failed += len(txns) - i
			e.Errorf("Replay interrupted with %d transactions left: %v", len(txns)-i, err)
			break
		}
		if r.cc == nil || !r.cc.CanTakeNewRequest() {
			if err := r.Connect(ctx, target); err != nil {
				tally.Failed += len(txns) - i
				e.Errorf("Failed to reconnect for transaction %q: %v", txn.Key, err)
				break
			}
		}

		if err := r.roundTrip(ctx, txn, target, &tally, &e); err != nil {
			tally.Failed++
			e.Errorf("Transaction %q (line %d) failed: %v", txn.Key, txn.Request.Line, err)
			r.Close()
		}
	}
	return tally, e
}

func (r *h2Runner) roundTrip(ctx context.Context, txn *types.Transaction, target string, tally *Tally, e *errata.Errata) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()

	req, err := buildRequest(ctx, &txn.Request, "https", target)
	if err != nil {
		return err
	}
	resp, err := r.cc.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	tally.Sent++
	if problems := Verify(txn, resp.StatusCode, resp.Header, r.opts.Names); len(problems) > 0 {
		tally.VerificationFailed++
		e.Warnf("Transaction %q (line %d) failed verification: %s", txn.Key, txn.Request.Line, strings.Join(problems, "; "))
	}
	return nil
}

// Close closes the HTTP/2 connection, if any
func (r *h2Runner) Close() error {
	if r.cc == nil {
		return nil
	}
	err := r.cc.Close()
	r.conn.Close()
	r.cc, r.conn = nil, nil
	return err
}
