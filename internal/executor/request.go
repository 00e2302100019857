package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/studiowebux/replay-client/internal/types"
)

// hopHeaders are managed by the transport, not copied from the recording
var hopHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
	"te":                true,
	"content-length":    true,
	"host":              true,
}

// buildRequest creates the outbound request for a recorded one. scheme and
// target fill in what a path-only recording leaves out.
func buildRequest(ctx context.Context, msg *types.HttpMessage, scheme, target string) (*http.Request, error) {
	method := msg.Method
	if method == "" {
		method = http.MethodGet
	}

	host := target
	if msg.Fields != nil {
		if h, ok := msg.Fields.Get("host"); ok && h != "" {
			host = h
		} else if h, ok := msg.Fields.Get(":authority"); ok && h != "" {
			host = h
		}
	}

	u, err := url.Parse(msg.URL)
	if err != nil || msg.URL == "" {
		if err == nil {
			err = fmt.Errorf("empty url")
		}
		return nil, fmt.Errorf("failed to parse request url %q: %w", msg.URL, err)
	}
	// The request always goes to the target; the recorded authority only
	// survives as the Host header.
	u.Scheme = scheme
	u.Host = target

	var body io.Reader
	size := msg.ContentSize
	switch {
	case msg.ContentData != "":
		body = strings.NewReader(msg.ContentData)
		size = len(msg.ContentData)
	case size > 0:
		body = bytes.NewReader(generatedBody(size))
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Host = host
	req.ContentLength = int64(size)

	if msg.Fields != nil {
		for _, f := range msg.Fields.Fields {
			if strings.HasPrefix(f.Name, ":") || hopHeaders[strings.ToLower(f.Name)] {
				continue
			}
			req.Header.Add(f.Name, f.Value)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		// Suppress the Go default so only recorded fields are sent
		req.Header["User-Agent"] = nil
	}
	return req, nil
}
