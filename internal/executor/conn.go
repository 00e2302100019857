package executor

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/types"
)

// connRunner replays HTTP/1.x transactions over one plain or TLS connection,
// reopening it when the peer closes it or a transaction fails
type connRunner struct {
	opts   *Options
	secure bool
	sni    string
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
}

func newConnRunner(secure bool, sni string, opts *Options) *connRunner {
	return &connRunner{opts: opts, secure: secure, sni: sni}
}

func (r *connRunner) scheme() string {
	if r.secure {
		return "https"
	}
	return "http"
}

// Connect dials target, with a TLS handshake presenting the session SNI for
// secure sessions
func (r *connRunner) Connect(ctx context.Context, target string) error {
	r.Close()

	dialer := &net.Dialer{
		Timeout:   r.opts.timeout(),
		KeepAlive: TCPKeepAliveInterval,
	}

	var conn net.Conn
	var err error
	if r.secure {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    tlsConfig(r.sni, target, r.opts.InsecureSkipVerify, nil),
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", target)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	r.conn = conn
	r.br = bufio.NewReader(conn)
	r.bw = bufio.NewWriter(conn)
	return nil
}

// RunTransactions sends each transaction in order on the current connection
func (r *connRunner) RunTransactions(ctx context.Context, txns []*types.Transaction, target string) (Tally, errata.Errata) {
	var tally Tally
	var e errata.Errata

	for i, txn := range txns {
		if err := ctx.Err(); err != nil {
			tally.Failed += len(txns) - i
			e.Errorf("Replay interrupted with %d transactions left: %v", len(txns)-i, err)
			break
		}
		if r.conn == nil {
			if err := r.Connect(ctx, target); err != nil {
				tally.Failed += len(txns) - i
				e.Errorf("Failed to reconnect for transaction %q: %v", txn.Key, err)
				break
			}
		}

		status, header, closeAfter, err := r.roundTrip(ctx, txn, target)
		if err != nil {
			tally.Failed++
			e.Errorf("Transaction %q (line %d) failed: %v", txn.Key, txn.Request.Line, err)
			r.Close()
			continue
		}

		tally.Sent++
		if problems := Verify(txn, status, header, r.opts.Names); len(problems) > 0 {
			tally.VerificationFailed++
			e.Warnf("Transaction %q (line %d) failed verification: %s", txn.Key, txn.Request.Line, strings.Join(problems, "; "))
		}
		if closeAfter {
			r.Close()
		}
	}
	return tally, e
}

func (r *connRunner) roundTrip(ctx context.Context, txn *types.Transaction, target string) (int, http.Header, bool, error) {
	req, err := buildRequest(ctx, &txn.Request, r.scheme(), target)
	if err != nil {
		return 0, nil, false, err
	}

	if err := r.conn.SetDeadline(time.Now().Add(r.opts.timeout())); err != nil {
		return 0, nil, false, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := req.Write(r.bw); err != nil {
		return 0, nil, false, fmt.Errorf("failed to write request: %w", err)
	}
	if err := r.bw.Flush(); err != nil {
		return 0, nil, false, fmt.Errorf("failed to write request: %w", err)
	}

	resp, err := http.ReadResponse(r.br, req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, false, fmt.Errorf("connection closed before response")
		}
		return 0, nil, false, fmt.Errorf("failed to read response: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, resp.Header, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, resp.Close, nil
}

// Close closes the current connection, if any
func (r *connRunner) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn, r.br, r.bw = nil, nil, nil
	return err
}

// tlsConfig builds the client TLS config. The session SNI wins; otherwise the
// target host name is used when it is not an IP address.
func tlsConfig(sni, target string, insecure bool, nextProtos []string) *tls.Config {
	serverName := sni
	if serverName == "" {
		if host, _, err := net.SplitHostPort(target); err == nil && net.ParseIP(host) == nil {
			serverName = host
		}
	}
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		NextProtos:         nextProtos,
	}
}
