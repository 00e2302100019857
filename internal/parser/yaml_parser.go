package parser

import (
	"os"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/rules"
	"gopkg.in/yaml.v3"
)

// Handler receives the scopes of a replay file in order:
//
//	SessionOpen → (TxnOpen → requests → responses → ApplyToAllMessages → TxnClose)* → SessionClose
//
// A transaction whose TxnOpen result is not OK is skipped: none of its other
// callbacks, TxnClose included, are invoked.
type Handler interface {
	GlobalRules(fields *rules.Fields) errata.Errata
	SessionOpen(node *yaml.Node) errata.Errata
	TxnOpen(node *yaml.Node) errata.Errata
	ClientRequest(node *yaml.Node) errata.Errata
	ProxyRequest(node *yaml.Node) errata.Errata
	ServerResponse(node *yaml.Node) errata.Errata
	ProxyResponse(node *yaml.Node) errata.Errata
	ApplyToAllMessages(fields *rules.Fields) errata.Errata
	TxnClose() errata.Errata
	SessionClose() errata.Errata
}

// LoadReplayFile parses a replay file and drives handler through its scopes.
// Field names are interned into names.
func LoadReplayFile(path string, names *intern.Table, handler Handler) errata.Errata {
	var e errata.Errata

	data, err := os.ReadFile(path)
	if err != nil {
		e.Errorf(`Failed to read replay file "%s": %v`, path, err)
		return e
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		e.Errorf(`Failed to parse replay file "%s": %v`, path, err)
		return e
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		e.Errorf(`Replay file "%s" is empty.`, path)
		return e
	}

	root := resolve(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		e.Errorf(`Replay file "%s" does not contain a mapping at the top level.`, path)
		return e
	}

	if meta := MapValue(root, KeyMeta); meta != nil {
		if rulesNode := MapValue(meta, KeyGlobalFieldRules); rulesNode != nil {
			fields, fe := ParseFields(MapValue(rulesNode, KeyHeaders), names)
			e.Note(fe)
			if fe.IsOK() {
				e.Note(handler.GlobalRules(fields))
			}
		}
	}

	sessions := MapValue(root, KeySessions)
	if sessions == nil {
		e.Errorf(`Replay file "%s" does not have a "%s" key.`, path, KeySessions)
		return e
	}
	if !IsSequence(sessions) {
		e.Errorf(`Replay file "%s" has a "%s" value that is not a sequence.`, path, KeySessions)
		return e
	}

	for _, ssnNode := range Items(sessions) {
		se := handler.SessionOpen(ssnNode)
		e.Note(se)
		if !se.IsOK() {
			continue
		}

		txns := MapValue(ssnNode, KeyTransactions)
		if !IsSequence(txns) {
			e.Warnf(`Session at "%s":%d has no "%s" sequence.`, path, ssnNode.Line, KeyTransactions)
		}
		for _, txnNode := range Items(txns) {
			e.Note(loadTransaction(txnNode, names, handler))
		}

		e.Note(handler.SessionClose())
	}

	return e
}

func loadTransaction(node *yaml.Node, names *intern.Table, handler Handler) errata.Errata {
	var e errata.Errata

	te := handler.TxnOpen(node)
	e.Note(te)
	if !te.IsOK() {
		return e
	}

	if n := MapValue(node, KeyClientRequest); n != nil {
		e.Note(handler.ClientRequest(n))
	}
	if n := MapValue(node, KeyProxyRequest); n != nil {
		e.Note(handler.ProxyRequest(n))
	}
	if n := MapValue(node, KeyServerResponse); n != nil {
		e.Note(handler.ServerResponse(n))
	}
	if n := MapValue(node, KeyProxyResponse); n != nil {
		e.Note(handler.ProxyResponse(n))
	}
	if all := MapValue(node, KeyAll); all != nil {
		fields, fe := ParseFields(MapValue(all, KeyHeaders), names)
		e.Note(fe)
		e.Note(handler.ApplyToAllMessages(fields))
	}

	e.Note(handler.TxnClose())
	return e
}
