package parser

import (
	"strconv"
	"strings"

	"github.com/studiowebux/replay-client/internal/errata"
	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/rules"
	"github.com/studiowebux/replay-client/internal/types"
	"gopkg.in/yaml.v3"
)

// ParseFields parses a headers node ({fields: [[name, value], ...]}) into a
// field set. A third element on an entry turns the field into a verification
// rule (equal, presence or absence). A nil node yields an empty set.
func ParseFields(node *yaml.Node, names *intern.Table) (*rules.Fields, errata.Errata) {
	var e errata.Errata
	fields := rules.NewFields()
	if node == nil {
		return fields, e
	}

	list := MapValue(node, KeyFields)
	if list == nil {
		return fields, e
	}
	if !IsSequence(list) {
		e.Errorf(`Field list at line %d is not a sequence.`, list.Line)
		return fields, e
	}

	for _, entry := range Items(list) {
		items := Items(entry)
		if len(items) < 2 || len(items) > 3 {
			e.Errorf(`Field at line %d is not a sequence of 2 or 3 elements.`, entry.Line)
			continue
		}
		if !IsScalar(items[0]) || !IsScalar(items[1]) {
			e.Errorf(`Field at line %d has a name or value that is not a scalar.`, entry.Line)
			continue
		}

		name := names.Intern(items[0].Value)
		value := items[1].Value
		fields.Add(name, value)

		if len(items) == 3 {
			flag, ok := rules.ParseFlag(items[2].Value)
			if !ok {
				e.Warnf(`Field "%s" at line %d has an unknown rule directive "%s".`, items[0].Value, entry.Line, items[2].Value)
				continue
			}
			fields.AddRule(rules.Rule{Name: name, Value: value, Flag: flag})
		}
	}

	return fields, e
}

// LoadMessage populates msg from a client-request, proxy-request,
// server-response or proxy-response node. Fields and rules are added to the
// field set msg already holds.
func LoadMessage(node *yaml.Node, msg *types.HttpMessage, names *intern.Table) errata.Errata {
	var e errata.Errata
	node = resolve(node)
	if node == nil || node.Kind != yaml.MappingNode {
		e.Errorf(`Message node is not a mapping.`)
		return e
	}
	if msg.Fields == nil {
		msg.Fields = rules.NewFields()
	}

	scalar := func(key string) string {
		n := MapValue(node, key)
		if n == nil {
			return ""
		}
		if !IsScalar(n) {
			e.Warnf(`Message at line %d has a "%s" value that is not a scalar.`, node.Line, key)
			return ""
		}
		return n.Value
	}

	msg.Method = scalar(KeyMethod)
	msg.URL = scalar(KeyURL)
	msg.Version = scalar(KeyVersion)
	msg.Reason = scalar(KeyReason)
	if s := scalar(KeyStatus); s != "" {
		status, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || status < 100 || status > 999 {
			e.Errorf(`Message at line %d has an invalid status "%s".`, node.Line, s)
		} else {
			msg.Status = status
		}
	}

	fields, fe := ParseFields(MapValue(node, KeyHeaders), names)
	e.Note(fe)
	msg.Fields.Fields = append(msg.Fields.Fields, fields.Fields...)
	msg.Fields.Merge(fields)

	// HTTP/2 recordings carry the request and status lines as pseudo-headers.
	if msg.Method == "" {
		msg.Method, _ = msg.Fields.Get(":method")
	}
	if msg.URL == "" {
		msg.URL, _ = msg.Fields.Get(":path")
	}
	if msg.Status == 0 {
		if s, ok := msg.Fields.Get(":status"); ok {
			if status, err := strconv.Atoi(s); err == nil {
				msg.Status = status
			}
		}
	}

	if content := MapValue(node, KeyContent); content != nil {
		if size := MapValue(content, KeySize); size != nil {
			n, ok := ParseUint(size)
			if !ok {
				e.Errorf(`Content at line %d has a "%s" that is not a non-negative integer.`, content.Line, KeySize)
			} else {
				msg.ContentSize = int(n)
			}
		}
		if data := MapValue(content, KeyData); data != nil {
			if IsScalar(data) {
				msg.ContentData = data.Value
				if msg.ContentSize == 0 {
					msg.ContentSize = len(data.Value)
				}
			} else {
				e.Errorf(`Content at line %d has a "%s" that is not a scalar.`, content.Line, KeyData)
			}
		}
	}

	msg.Line = node.Line
	msg.Loaded = true
	return e
}
