package types

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultKeyFormat identifies a transaction by its uuid field
const DefaultKeyFormat = "{field.uuid}"

var keyTokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_.:-]+)\}`)

// MakeKey derives the transaction key of a request from a key format.
//
// Supported tokens: {method}, {url}, {scheme}, {host}, {path} and
// {field.<name>} (case-insensitive field lookup). Unknown tokens and missing
// fields expand to the empty string.
func (m *HttpMessage) MakeKey(format string) string {
	if format == "" {
		format = DefaultKeyFormat
	}

	var parsed *url.URL
	parse := func() *url.URL {
		if parsed == nil {
			u, err := url.Parse(m.URL)
			if err != nil {
				u = &url.URL{}
			}
			parsed = u
		}
		return parsed
	}

	return keyTokenPattern.ReplaceAllStringFunc(format, func(tok string) string {
		name := tok[1 : len(tok)-1]
		switch {
		case name == "method":
			return m.Method
		case name == "url":
			return m.URL
		case name == "scheme":
			return parse().Scheme
		case name == "host":
			if h := parse().Host; h != "" {
				return h
			}
			if m.Fields != nil {
				h, _ := m.Fields.Get("host")
				return h
			}
			return ""
		case name == "path":
			return parse().Path
		case strings.HasPrefix(name, "field."):
			if m.Fields == nil {
				return ""
			}
			v, _ := m.Fields.Get(strings.TrimPrefix(name, "field."))
			return v
		default:
			return ""
		}
	})
}
