package types

import (
	"github.com/studiowebux/replay-client/internal/rules"
)

// Protocol is the transport variant a session is replayed with
type Protocol int

const (
	ProtocolPlain Protocol = iota
	ProtocolTLS
	ProtocolHTTP2
)

// String returns the short protocol name used in logs
func (p Protocol) String() string {
	switch p {
	case ProtocolTLS:
		return "https"
	case ProtocolHTTP2:
		return "h2"
	default:
		return "http"
	}
}

// Variant is the protocol classification of a session, resolved once when the
// session is built. SNI is only meaningful for ProtocolTLS and ProtocolHTTP2.
type Variant struct {
	Protocol Protocol
	SNI      string
}

// HttpMessage is a recorded request or response
type HttpMessage struct {
	// Request line
	Method  string
	URL     string
	Version string

	// Status line
	Status int
	Reason string

	Fields      *rules.Fields
	ContentSize int
	ContentData string // Literal body, empty when only a size was recorded
	Line        int    // Line of the message node in the replay file
	Loaded      bool
}

// NewHttpMessage creates an empty message with an initialized field set
func NewHttpMessage() HttpMessage {
	return HttpMessage{Fields: rules.NewFields()}
}

// Transaction is one request and its expected response
type Transaction struct {
	Request  HttpMessage
	Response HttpMessage
	Strict   bool   // Verify every response, not only annotated ones
	Key      string // Derived from the request at close time
}

// NewTransaction creates a transaction ready to be populated
func NewTransaction(strict bool) *Transaction {
	return &Transaction{
		Request:  NewHttpMessage(),
		Response: NewHttpMessage(),
		Strict:   strict,
	}
}

// RequestSize returns the request body size used for buffer sizing
func (t *Transaction) RequestSize() int {
	if t.Request.ContentData != "" {
		return len(t.Request.ContentData)
	}
	return t.Request.ContentSize
}

// Session is a replayed connection: ordered transactions plus the protocol and
// timing metadata recorded for it
type Session struct {
	Path  string
	Line  int
	IsTLS bool
	IsH2  bool

	ClientSNI string
	Variant   Variant

	// Start is the recorded connection time in microseconds. After the batch
	// is prepared it is relative to the earliest session.
	Start uint64

	Transactions []*Transaction
}

// ResolveVariant derives the protocol variant from the scan flags. HTTP/2
// takes precedence over TLS.
func (s *Session) ResolveVariant() Variant {
	switch {
	case s.IsH2:
		s.Variant = Variant{Protocol: ProtocolHTTP2, SNI: s.ClientSNI}
	case s.IsTLS:
		s.Variant = Variant{Protocol: ProtocolTLS, SNI: s.ClientSNI}
	default:
		s.Variant = Variant{Protocol: ProtocolPlain}
	}
	return s.Variant
}
