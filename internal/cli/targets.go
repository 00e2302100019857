package cli

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Resolver looks up the addresses of a host
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ResolveTargets resolves a comma separated list of host:port entries. Every
// address of every host is kept, in resolver order.
func ResolveTargets(ctx context.Context, list string, resolver Resolver) ([]string, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	var targets []string
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, port, err := net.SplitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", entry, err)
		}
		if host == "" {
			host = "localhost"
		}
		if net.ParseIP(host) != nil {
			targets = append(targets, net.JoinHostPort(host, port))
			continue
		}
		addrs, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("failed to resolve %q: no addresses", host)
		}
		for _, addr := range addrs {
			targets = append(targets, net.JoinHostPort(addr, port))
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets in %q", list)
	}
	return targets, nil
}
