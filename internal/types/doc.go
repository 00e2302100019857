/*
Package types defines the replay data model shared by the loader, the
scheduler and the session runners.

# Sessions

A Session is one recorded connection. It carries the replay file position it
was loaded from, the protocol flags found by the protocol scan, the client SNI
and the recorded start time in microseconds. The Variant is resolved once when
the session is opened:

  - HTTP/2 flag set: ProtocolHTTP2
  - TLS flag set: ProtocolTLS (with SNI)
  - otherwise: ProtocolPlain

# Transactions

A Transaction pairs the request to send with the response expected back. Which
recorded messages fill the pair depends on the run mode (client-request and
proxy-response behind a proxy, proxy-request and server-response without one).
Each message owns a rules.Fields holding its recorded fields and verification
rules.

# Lifetime

Sessions and transactions are built during loading and never mutated after the
batch is prepared, apart from the one-time start time normalization. Replay
workers read them concurrently without locking.
*/
package types
