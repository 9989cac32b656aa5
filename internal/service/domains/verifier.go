package domains

import (
	"context"
	"net"
	"time"
)

// Verifier reports whether a domain currently resolves to any address.
// This is a best-effort reachability signal, not an IP match against the
// panel host: DNS-not-yet-propagated is an expected transient state, so
// every resolution failure is a negative result, never an error.
type Verifier interface {
	Verify(ctx context.Context, name string) bool
}

type resolverVerifier struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewVerifier returns a Verifier backed by the system resolver. Each call
// is a single attempt bounded by timeout; callers re-invoke on the next
// deploy or an explicit re-check.
func NewVerifier(timeout time.Duration) Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &resolverVerifier{resolver: net.DefaultResolver, timeout: timeout}
}

func (v *resolverVerifier) Verify(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	addrs, err := v.resolver.LookupHost(ctx, name)
	return err == nil && len(addrs) > 0
}
