/*
Package executor replays the transactions of one session on the wire.

# Overview

RunSession is the dispatch layer between the worker pool and the protocol
runners. It picks a runner from the session's protocol variant:
  - Plain: HTTP/1.x over TCP to the HTTP target
  - TLS: HTTP/1.x over TLS to the HTTPS target, presenting the session SNI
  - HTTP2: HTTP/2 over TLS (ALPN h2) to the HTTPS target

HTTP/2 sessions are skipped when there is no proxy on the path.

# Runners

A Runner connects once, then sends the session's transactions strictly in
recorded order (conn.go, h2.go). A transaction that fails on the wire is
reported and the runner continues with the next one on a fresh connection.
A connect failure aborts only that session. Connect attempts can be retried
with exponential backoff (Options.ConnectRetries).

Request bodies recorded only by size are filled from a shared, read-only
buffer sized once with SetMaxContentLength (body.go).

# Verification

Responses are checked by Verify (verify.go):
  - strict transactions: always, status and field rules
  - other transactions: only when the expected response carries field rules

Verification failures are warnings in the session errata and are counted in
Tally.VerificationFailed; they never abort the session.

# Tracing

Each session runs in an OpenTelemetry span named replay.session. Without a
configured provider the global no-op tracer is used.
*/
package executor
