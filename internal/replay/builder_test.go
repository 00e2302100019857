package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/rules"
	"github.com/studiowebux/replay-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeReplay(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func yamlNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return doc.Content[0]
}

const twoSessionReplay = `
sessions:
- protocol: [ http, tcp ]
  connection-time: 5000000
  transactions:
  - client-request: { method: GET, url: /late, headers: { fields: [ [ uuid, late ] ] } }
    proxy-response: { status: 200 }
- protocol: [ http, tcp ]
  connection-time: 1000000
  transactions:
  - client-request: { method: GET, url: /early, headers: { fields: [ [ uuid, early ] ] } }
    proxy-response: { status: 200 }
`

func TestLoadDirectory_NormalizesSessions(t *testing.T) {
	dir := t.TempDir()
	writeReplay(t, dir, "trace.yaml", twoSessionReplay)

	reg := NewRegistry(intern.NewTable())
	e, err := LoadDirectory(context.Background(), dir, reg, &BuilderOptions{}, 2)
	require.NoError(t, err)
	require.True(t, e.IsOK(), "errata: %v", e.Err())

	batch := reg.Prepare()
	reg.Freeze()

	require.Len(t, batch.Sessions, 2)
	assert.Equal(t, uint64(0), batch.Sessions[0].Start)
	assert.Equal(t, uint64(4000), batch.Sessions[1].Start)
	assert.Equal(t, "early", batch.Sessions[0].Transactions[0].Key)
	assert.Equal(t, 2, batch.Transactions)
	assert.Equal(t, uint64(4000), batch.Span)
	assert.Equal(t, uint64(1000), batch.Offset)
}

func TestSessionBuilder_ProtocolScanOrder(t *testing.T) {
	tests := []struct {
		name    string
		session string
		wantTLS bool
		wantH2  bool
		wantSNI string
		want    types.Protocol
	}{
		{
			name:    "h2 then tls",
			session: "protocol: [ h2, tls ]\ntls: { client-sni: a.example.com }\n",
			wantTLS: true,
			wantH2:  true,
			wantSNI: "a.example.com",
			want:    types.ProtocolHTTP2,
		},
		{
			name:    "tls stops the scan",
			session: "protocol: [ TLS, h2 ]\ntls: { client-sni: B.example.com }\n",
			wantTLS: true,
			wantH2:  false,
			wantSNI: "b.example.com",
			want:    types.ProtocolTLS,
		},
		{
			name:    "plain",
			session: "protocol: [ http, tcp, ip ]\n",
			want:    types.ProtocolPlain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSessionBuilder("test.yaml", NewRegistry(nil), nil)
			e := b.SessionOpen(yamlNode(t, tt.session))
			require.True(t, e.IsOK(), "errata: %v", e.Err())

			assert.Equal(t, tt.wantTLS, b.ssn.IsTLS)
			assert.Equal(t, tt.wantH2, b.ssn.IsH2)
			assert.Equal(t, tt.wantSNI, b.ssn.ClientSNI)
			assert.Equal(t, tt.want, b.ssn.Variant.Protocol)
		})
	}
}

func TestSessionBuilder_ConnectionTime(t *testing.T) {
	b := NewSessionBuilder("test.yaml", NewRegistry(nil), nil)

	e := b.SessionOpen(yamlNode(t, "connection-time: 2500000\n"))
	assert.True(t, e.IsOK())
	assert.Equal(t, uint64(2500), b.ssn.Start)

	for _, bad := range []string{"connection-time: 0\n", "connection-time: soon\n", "connection-time: [ 1 ]\n"} {
		e = b.SessionOpen(yamlNode(t, bad))
		assert.True(t, e.IsOK(), bad)
		assert.Equal(t, 1, e.Count(errata.SeverityWarn), "expected one warning for %q", bad)
		assert.Equal(t, uint64(0), b.ssn.Start)
	}
}

func TestSessionBuilder_KeyAllowList(t *testing.T) {
	const src = `
sessions:
- transactions:
  - client-request: { method: GET, url: /foo }
    proxy-response: { status: 200 }
`
	tests := []struct {
		name string
		keys []string
		kept bool
	}{
		{"empty allow-list keeps everything", nil, true},
		{"matching key", []string{"GET:/foo"}, true},
		{"other key", []string{"GET:/bar"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeReplay(t, t.TempDir(), "a.yaml", src)
			reg := NewRegistry(nil)
			opts := &BuilderOptions{KeyFormat: "{method}:{url}", Keys: NewKeySet(tt.keys)}

			e := NewSessionBuilder(path, reg, opts).LoadFile()
			assert.True(t, e.IsOK(), "errata: %v", e.Err())

			if tt.kept {
				require.Equal(t, 1, reg.Len())
				assert.Equal(t, "GET:/foo", reg.Sessions()[0].Transactions[0].Key)
			} else {
				// The session lost its only transaction and is not registered
				assert.Equal(t, 0, reg.Len())
			}
		})
	}
}

func TestSessionBuilder_InvalidTransactionReleasesNothing(t *testing.T) {
	reg := NewRegistry(nil)
	b := NewSessionBuilder("test.yaml", reg, nil)

	require.True(t, b.SessionOpen(yamlNode(t, "protocol: [ http ]\n")).IsOK())

	// No proxy-response: rejected before the load lock is taken
	e := b.TxnOpen(yamlNode(t, "client-request: { method: GET, url: /a }\n"))
	require.False(t, e.IsOK())
	assert.False(t, b.guard.held)

	// A stray close must not unlock a lock it does not hold
	assert.NotPanics(t, func() { b.TxnClose() })
	assert.NotPanics(t, func() { b.SessionClose() })
	assert.Equal(t, 0, reg.Len())

	// The next transaction can still take and release the lock
	require.True(t, b.SessionOpen(yamlNode(t, "protocol: [ http ]\n")).IsOK())
	valid := yamlNode(t, "client-request: { method: GET, url: /b }\nproxy-response: { status: 200 }\n")
	require.True(t, b.TxnOpen(valid).IsOK())
	assert.True(t, b.guard.held)
	require.True(t, b.ClientRequest(yamlNode(t, "{ method: GET, url: /b }")).IsOK())
	require.True(t, b.TxnClose().IsOK())
	assert.False(t, b.guard.held)
	b.SessionClose()

	require.True(t, reg.loadMu.TryLock(), "load lock leaked")
	reg.loadMu.Unlock()
	assert.Equal(t, 1, reg.Len())
}

func TestSessionBuilder_UnclosedTransactionIsAbandoned(t *testing.T) {
	reg := NewRegistry(nil)
	b := NewSessionBuilder("test.yaml", reg, nil)

	require.True(t, b.SessionOpen(yamlNode(t, "protocol: [ http ]\n")).IsOK())
	require.True(t, b.TxnOpen(yamlNode(t, "client-request: {}\nproxy-response: {}\n")).IsOK())
	require.True(t, b.guard.held)

	b.SessionClose()
	assert.False(t, b.guard.held)
	require.True(t, reg.loadMu.TryLock(), "load lock leaked")
	reg.loadMu.Unlock()
}

func TestSessionBuilder_DirectiveSelection(t *testing.T) {
	const src = `
meta:
  global-field-rules:
    headers:
      fields:
      - [ Server, ats, presence ]
sessions:
- transactions:
  - client-request: { method: GET, url: /client }
    proxy-request: { method: GET, url: /proxy }
    server-response: { status: 201 }
    proxy-response: { status: 200, headers: { fields: [ [ Via, cache, equal ] ] } }
    all: { headers: { fields: [ [ X-Trace, abc, absence ] ] } }
`
	t.Run("through a proxy", func(t *testing.T) {
		path := writeReplay(t, t.TempDir(), "a.yaml", src)
		reg := NewRegistry(nil)
		require.True(t, NewSessionBuilder(path, reg, &BuilderOptions{}).LoadFile().IsOK())

		txn := reg.Sessions()[0].Transactions[0]
		assert.Equal(t, "/client", txn.Request.URL)
		assert.Equal(t, 200, txn.Response.Status)
		assert.Equal(t, rules.MatchPresence, txn.Response.Fields.Rules["server"].Flag)
		assert.Equal(t, rules.MatchEquality, txn.Response.Fields.Rules["via"].Flag)
		assert.Equal(t, rules.MatchAbsence, txn.Response.Fields.Rules["x-trace"].Flag)
		assert.Equal(t, rules.MatchAbsence, txn.Request.Fields.Rules["x-trace"].Flag)
	})

	t.Run("without a proxy", func(t *testing.T) {
		path := writeReplay(t, t.TempDir(), "a.yaml", src)
		reg := NewRegistry(nil)
		opts := &BuilderOptions{UseProxyRequestDirectives: true, Strict: true}
		require.True(t, NewSessionBuilder(path, reg, opts).LoadFile().IsOK())

		txn := reg.Sessions()[0].Transactions[0]
		assert.Equal(t, "/proxy", txn.Request.URL)
		assert.Equal(t, 201, txn.Response.Status)
		assert.True(t, txn.Strict)
		_, ok := txn.Response.Fields.Rules["via"]
		assert.False(t, ok)
	})
}

func TestSessionBuilder_EmptySessionsAreExcluded(t *testing.T) {
	const src = `
sessions:
- protocol: [ http ]
  transactions: []
- protocol: [ http ]
  transactions:
  - client-request: { method: GET, url: /only }
    proxy-response: { status: 200 }
`
	path := writeReplay(t, t.TempDir(), "a.yaml", src)
	reg := NewRegistry(nil)
	NewSessionBuilder(path, reg, nil).LoadFile()

	require.Equal(t, 1, reg.Len())
	for _, ssn := range reg.Sessions() {
		assert.NotEmpty(t, ssn.Transactions)
	}
}

func TestSessionBuilder_NonScalarSNIDropsSession(t *testing.T) {
	const src = `
sessions:
- protocol: [ tls, tcp ]
  tls: { client-sni: [ a.example.com ] }
  transactions:
  - client-request: { method: GET, url: /dropped }
    proxy-response: { status: 200 }
- protocol: [ tls, tcp ]
  tls: { client-sni: b.example.com }
  transactions:
  - client-request: { method: GET, url: /kept }
    proxy-response: { status: 200 }
`
	path := writeReplay(t, t.TempDir(), "a.yaml", src)
	reg := NewRegistry(nil)
	e := NewSessionBuilder(path, reg, nil).LoadFile()

	assert.False(t, e.IsOK())
	assert.Equal(t, 1, e.Count(errata.SeverityError))
	require.Equal(t, 1, reg.Len())
	assert.Equal(t, "b.example.com", reg.Sessions()[0].ClientSNI)
}

func TestRegistry_FreezeBlocksWrites(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Freeze()

	assert.True(t, reg.Frozen())
	assert.True(t, reg.Names().Frozen())
	assert.Panics(t, func() { reg.MergeGlobalRules(rules.NewFields()) })
	assert.Panics(t, func() {
		reg.add(&types.Session{Transactions: []*types.Transaction{types.NewTransaction(false)}})
	})
	assert.Panics(t, func() { reg.Prepare() })
}

func TestRegistry_SortIsStable(t *testing.T) {
	sessions := []*types.Session{
		{Path: "a", Start: 30},
		{Path: "b", Start: 10},
		{Path: "c", Start: 30},
		{Path: "d", Start: 10},
	}
	SortSessions(sessions)
	offset := Normalize(sessions)

	var order []string
	for _, s := range sessions {
		order = append(order, s.Path)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, order)
	assert.Equal(t, uint64(10), offset)
	assert.Equal(t, uint64(0), sessions[0].Start)
	assert.Equal(t, uint64(20), sessions[3].Start)
}
