package parser

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Replay file keys
const (
	KeyMeta             = "meta"
	KeyGlobalFieldRules = "global-field-rules"
	KeySessions         = "sessions"
	KeyProtocol         = "protocol"
	KeyTLS              = "tls"
	KeyClientSNI        = "client-sni"
	KeyStart            = "connection-time"
	KeyTransactions     = "transactions"
	KeyClientRequest    = "client-request"
	KeyProxyRequest     = "proxy-request"
	KeyServerResponse   = "server-response"
	KeyProxyResponse    = "proxy-response"
	KeyAll              = "all"
	KeyHeaders          = "headers"
	KeyFields           = "fields"
	KeyContent          = "content"
	KeyMethod           = "method"
	KeyURL              = "url"
	KeyVersion          = "version"
	KeyStatus           = "status"
	KeyReason           = "reason"
	KeySize             = "size"
	KeyData             = "data"
)

// resolve follows alias nodes
func resolve(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

// MapValue returns the value node for key in a mapping node, or nil
func MapValue(node *yaml.Node, key string) *yaml.Node {
	node = resolve(node)
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return resolve(node.Content[i+1])
		}
	}
	return nil
}

// IsScalar reports whether node is a scalar
func IsScalar(node *yaml.Node) bool {
	node = resolve(node)
	return node != nil && node.Kind == yaml.ScalarNode
}

// IsSequence reports whether node is a sequence
func IsSequence(node *yaml.Node) bool {
	node = resolve(node)
	return node != nil && node.Kind == yaml.SequenceNode
}

// Items returns the elements of a sequence node with aliases resolved
func Items(node *yaml.Node) []*yaml.Node {
	node = resolve(node)
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil
	}
	items := make([]*yaml.Node, 0, len(node.Content))
	for _, n := range node.Content {
		items = append(items, resolve(n))
	}
	return items
}

// ParseUint parses a scalar as an unsigned integer. Values that are not
// non-negative integers yield 0 and false.
func ParseUint(node *yaml.Node) (uint64, bool) {
	if !IsScalar(node) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(resolve(node).Value), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
