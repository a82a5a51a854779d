// Package pinned builds HTTP transports that connect to a fixed set of
// pre-resolved addresses instead of re-resolving the hostname at dial time.
//
// A URL validated at time T can resolve to a different, internal address at
// time T+1 if the attacker controls the DNS answer (DNS rebinding). Pinning
// the dial target to the addresses seen during validation closes that gap
// while the original hostname is still used for the TLS handshake and the
// Host header.
package pinned

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"
)

// Dialer creates connections to a pinned address set, round-robin.
type Dialer struct {
	addrs []netip.Addr
	next  atomic.Uint64
	inner *net.Dialer
}

// NewDialer returns a Dialer that connects only to addrs.
// The addrs slice must be non-empty.
func NewDialer(addrs []netip.Addr) *Dialer {
	return &Dialer{
		addrs: addrs,
		inner: &net.Dialer{Timeout: 10 * time.Second},
	}
}

// DialContext connects to the next pinned address, ignoring the hostname in
// addr and keeping only its port. The hostname still reaches the server via
// SNI and the Host header, set by the HTTP client from the request URL.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if len(d.addrs) == 0 {
		return nil, fmt.Errorf("pinned: no addresses to dial")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("pinned: invalid dial address %q: %w", addr, err)
	}

	return d.inner.DialContext(ctx, network, net.JoinHostPort(d.pick().String(), port))
}

// pick returns the next address in rotation.
func (d *Dialer) pick() netip.Addr {
	n := d.next.Add(1)
	return d.addrs[(n-1)%uint64(len(d.addrs))]
}

// Transport returns an *http.Transport that dials only the given addresses.
// TLS verification still runs against the request hostname.
func Transport(addrs []netip.Addr) *http.Transport {
	d := NewDialer(addrs)
	return &http.Transport{
		DialContext:           d.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
