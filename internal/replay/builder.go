package replay

import (
	"context"
	"strings"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/parser"
	"github.com/studiowebux/replay-client/internal/rules"
	"github.com/studiowebux/replay-client/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	tlsPrefix = "tls"
	h2Prefix  = "h2"
)

// BuilderOptions controls how recorded transactions become replayable ones
type BuilderOptions struct {
	// UseProxyRequestDirectives replays proxy-request and expects
	// server-response (no proxy on the path) instead of client-request and
	// proxy-response.
	UseProxyRequestDirectives bool
	Strict                    bool
	KeyFormat                 string
	Keys                      map[string]struct{} // Allow-list; empty keeps every transaction
}

// NewKeySet builds an allow-list from keys
func NewKeySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// txnGuard ties the registry load lock to the lifetime of one transaction.
// release is a no-op unless the guard holds the lock, so a transaction that
// failed validation can neither leave the lock held nor unlock it twice.
type txnGuard struct {
	reg  *Registry
	held bool
}

func (g *txnGuard) acquire() {
	if g.held {
		return
	}
	g.reg.loadMu.Lock()
	g.held = true
}

func (g *txnGuard) release() {
	if !g.held {
		return
	}
	g.held = false
	g.reg.loadMu.Unlock()
}

// SessionBuilder is the per-file state machine turning replay file scopes
// into sessions. One builder is created per file; builders for different files
// run concurrently and coordinate through the Registry.
type SessionBuilder struct {
	path  string
	reg   *Registry
	opts  *BuilderOptions
	ssn   *types.Session
	txn   *types.Transaction
	guard txnGuard
}

var _ parser.Handler = (*SessionBuilder)(nil)

// NewSessionBuilder creates a builder for the replay file at path
func NewSessionBuilder(path string, reg *Registry, opts *BuilderOptions) *SessionBuilder {
	if opts == nil {
		opts = &BuilderOptions{}
	}
	return &SessionBuilder{
		path:  path,
		reg:   reg,
		opts:  opts,
		guard: txnGuard{reg: reg},
	}
}

// GlobalRules merges the file's global field rules into the registry template
func (b *SessionBuilder) GlobalRules(fields *rules.Fields) errata.Errata {
	b.reg.MergeGlobalRules(fields)
	return errata.Errata{}
}

// SessionOpen starts a new session and classifies its protocol.
//
// Protocol entries are scanned in file order. An h2 entry sets the HTTP/2 flag
// and the scan continues; the first tls entry sets the TLS flag, reads the
// client SNI and ends the scan, so entries after it are never inspected.
func (b *SessionBuilder) SessionOpen(node *yaml.Node) errata.Errata {
	var e errata.Errata
	b.abandonTxn()
	b.ssn = &types.Session{Path: b.path, Line: node.Line}

	if proto := parser.MapValue(node, parser.KeyProtocol); proto != nil {
		if parser.IsSequence(proto) {
			for _, n := range parser.Items(proto) {
				if !parser.IsScalar(n) {
					continue
				}
				if hasPrefixFold(n.Value, h2Prefix) {
					b.ssn.IsH2 = true
				}
				if hasPrefixFold(n.Value, tlsPrefix) {
					b.ssn.IsTLS = true
					if tlsNode := parser.MapValue(node, parser.KeyTLS); tlsNode != nil {
						if sni := parser.MapValue(tlsNode, parser.KeyClientSNI); sni != nil {
							if parser.IsScalar(sni) {
								b.ssn.ClientSNI = b.reg.Names().Intern(sni.Value)
							} else {
								e.Errorf(`Session at "%s":%d has a value for key "%s" that is not a scalar as required.`,
									b.path, b.ssn.Line, parser.KeyClientSNI)
							}
						}
					}
					break
				}
			}
		} else {
			e.Warnf(`Session at "%s":%d has a value for "%s" that is not a sequence.`, b.path, b.ssn.Line, parser.KeyProtocol)
		}
	} else {
		e.Infof(`Session at "%s":%d has no "%s" key.`, b.path, b.ssn.Line, parser.KeyProtocol)
	}

	if start := parser.MapValue(node, parser.KeyStart); start != nil {
		if parser.IsScalar(start) {
			if t, ok := parser.ParseUint(start); ok && t > 0 {
				b.ssn.Start = t / 1000 // nanoseconds to microseconds
			} else {
				e.Warnf(`Session at "%s":%d has a "%s" value "%s" that is not a positive integer.`,
					b.path, b.ssn.Line, parser.KeyStart, start.Value)
			}
		} else {
			e.Warnf(`Session at "%s":%d has a "%s" key that is not a scalar.`, b.path, b.ssn.Line, parser.KeyStart)
		}
	}

	b.ssn.ResolveVariant()
	return e
}

// requestKey and responseKey are the directives authoritative in this run mode
func (b *SessionBuilder) requestKey() string {
	if b.opts.UseProxyRequestDirectives {
		return parser.KeyProxyRequest
	}
	return parser.KeyClientRequest
}

func (b *SessionBuilder) responseKey() string {
	if b.opts.UseProxyRequestDirectives {
		return parser.KeyServerResponse
	}
	return parser.KeyProxyResponse
}

// TxnOpen validates a transaction node and, if valid, takes the load lock
// for the transaction's lifetime
func (b *SessionBuilder) TxnOpen(node *yaml.Node) errata.Errata {
	var e errata.Errata
	if b.ssn == nil {
		e.Errorf(`Transaction node at "%s":%d is outside of a session.`, b.path, node.Line)
		return e
	}
	if parser.MapValue(node, b.requestKey()) == nil {
		e.Errorf(`Transaction node at "%s":%d does not have a request [%s].`, b.path, node.Line, b.requestKey())
	}
	if parser.MapValue(node, b.responseKey()) == nil {
		e.Errorf(`Transaction node at "%s":%d does not have a response [%s].`, b.path, node.Line, b.responseKey())
	}
	if !e.IsOK() {
		return e
	}

	b.guard.acquire()
	b.txn = types.NewTransaction(b.opts.Strict)
	return e
}

// ClientRequest loads the request when replaying behind a proxy
func (b *SessionBuilder) ClientRequest(node *yaml.Node) errata.Errata {
	if b.opts.UseProxyRequestDirectives || b.txn == nil {
		return errata.Errata{}
	}
	return parser.LoadMessage(node, &b.txn.Request, b.reg.Names())
}

// ProxyRequest loads the request when replaying without a proxy
func (b *SessionBuilder) ProxyRequest(node *yaml.Node) errata.Errata {
	if !b.opts.UseProxyRequestDirectives || b.txn == nil {
		return errata.Errata{}
	}
	return parser.LoadMessage(node, &b.txn.Request, b.reg.Names())
}

// ProxyResponse loads the expected response when a proxy is on the path
func (b *SessionBuilder) ProxyResponse(node *yaml.Node) errata.Errata {
	if b.opts.UseProxyRequestDirectives || b.txn == nil {
		return errata.Errata{}
	}
	b.txn.Response.Fields = b.reg.globalRulesCopy()
	return parser.LoadMessage(node, &b.txn.Response, b.reg.Names())
}

// ServerResponse loads the expected response when talking to the origin
func (b *SessionBuilder) ServerResponse(node *yaml.Node) errata.Errata {
	if !b.opts.UseProxyRequestDirectives || b.txn == nil {
		return errata.Errata{}
	}
	b.txn.Response.Fields = b.reg.globalRulesCopy()
	return parser.LoadMessage(node, &b.txn.Response, b.reg.Names())
}

// ApplyToAllMessages merges rules into both the request and the response
func (b *SessionBuilder) ApplyToAllMessages(fields *rules.Fields) errata.Errata {
	if b.txn == nil {
		return errata.Errata{}
	}
	b.txn.Request.Fields.Merge(fields)
	b.txn.Response.Fields.Merge(fields)
	return errata.Errata{}
}

// TxnClose attaches the transaction to its session unless the key allow-list
// excludes it, then releases the load lock
func (b *SessionBuilder) TxnClose() errata.Errata {
	var e errata.Errata
	defer b.guard.release()

	if b.txn == nil {
		e.Diagf(`Transaction close in "%s" without an open transaction.`, b.path)
		return e
	}
	txn := b.txn
	b.txn = nil

	txn.Key = txn.Request.MakeKey(b.opts.KeyFormat)
	if len(b.opts.Keys) > 0 {
		if _, ok := b.opts.Keys[txn.Key]; !ok {
			return e
		}
	}
	b.ssn.Transactions = append(b.ssn.Transactions, txn)
	return e
}

// SessionClose registers the session if it holds at least one transaction
func (b *SessionBuilder) SessionClose() errata.Errata {
	var e errata.Errata
	b.abandonTxn()
	if b.ssn == nil {
		return e
	}
	if !b.reg.add(b.ssn) {
		e.Diagf(`Session at "%s":%d has no transactions to replay.`, b.path, b.ssn.Line)
	}
	b.ssn = nil
	return e
}

// abandonTxn drops a transaction that was opened but never closed
func (b *SessionBuilder) abandonTxn() {
	b.txn = nil
	b.guard.release()
}

// LoadFile loads one replay file into the registry
func (b *SessionBuilder) LoadFile() errata.Errata {
	e := parser.LoadReplayFile(b.path, b.reg.Names(), b)
	b.abandonTxn()
	return e
}

// LoadDirectory loads every replay file in dir into reg with bounded
// parallelism. The error is set only for directory-level failures.
func LoadDirectory(ctx context.Context, dir string, reg *Registry, opts *BuilderOptions, parallelism int) (errata.Errata, error) {
	return parser.LoadReplayDirectory(ctx, dir, func(path string) errata.Errata {
		return NewSessionBuilder(path, reg, opts).LoadFile()
	}, parallelism)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
