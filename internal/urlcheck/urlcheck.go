// Package urlcheck decides whether a caller-supplied URL is safe to fetch
// from a server-side process. It blocks private and reserved address ranges,
// cloud metadata endpoints, internal hostnames, and disallowed ports, and
// resolves hostnames once so the resulting addresses can be pinned for the
// actual connection (DNS-rebinding defense).
package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"time"
)

// ReasonCode identifies a rejection category. Codes are stable strings
// suitable for metric labels and API responses.
type ReasonCode string

const (
	// CodeOK means the URL passed every check.
	CodeOK ReasonCode = "ok"
	// CodeInvalidURL means the input could not be parsed as an absolute URL.
	CodeInvalidURL ReasonCode = "invalid_url"
	// CodeScheme means the URL scheme is not http or https.
	CodeScheme ReasonCode = "scheme_blocked"
	// CodeHostBlocked means the hostname matched the blocklist.
	CodeHostBlocked ReasonCode = "host_blocked"
	// CodePortBlocked means the effective port is forbidden or not allowlisted.
	CodePortBlocked ReasonCode = "port_blocked"
	// CodeDomainNotAllowed means the hostname is outside the domain allowlist.
	CodeDomainNotAllowed ReasonCode = "domain_not_allowed"
	// CodeAddrBlocked means a resolved address fell in a blocked range.
	CodeAddrBlocked ReasonCode = "address_blocked"
	// CodeDNSTimeout means the resolver did not answer within the deadline.
	CodeDNSTimeout ReasonCode = "dns_timeout"
	// CodeDNSFailure means the hostname could not be resolved.
	CodeDNSFailure ReasonCode = "dns_failure"
)

// Options is the closed set of knobs recognized by the validator.
// The zero value is not useful; start from DefaultOptions.
type Options struct {
	// AllowedDomains, when non-empty, restricts hostnames to exact matches
	// or subdomains of the listed domains.
	AllowedDomains []string

	// AllowedPorts, when non-empty, restricts the effective port to the
	// listed values. The built-in port blocklist applies regardless.
	AllowedPorts []int

	// BlockPrivateIPs enables DNS resolution and rejection of private,
	// loopback, link-local, and otherwise reserved address ranges.
	BlockPrivateIPs bool

	// BlockMetadataHosts rejects well-known cloud metadata hostnames and
	// the metadata IP even when private-range blocking is disabled.
	BlockMetadataHosts bool

	// DNSTimeout bounds the hostname lookup. Applied independently of any
	// request-level deadline the caller may carry.
	DNSTimeout time.Duration
}

// DefaultOptions returns the production defaults: both blocking modes on,
// no allowlists, 2 second DNS timeout.
func DefaultOptions() Options {
	return Options{
		BlockPrivateIPs:    true,
		BlockMetadataHosts: true,
		DNSTimeout:         2 * time.Second,
	}
}

// Result is the outcome of a validation. Rejections are values, never
// errors: the Reason string is safe to surface in a 400-class response.
// A Result is never mutated after Validate returns it.
type Result struct {
	Valid  bool         `json:"valid"`
	URL    *url.URL     `json:"-"`
	Addrs  []netip.Addr `json:"addrs,omitempty"`
	Code   ReasonCode   `json:"code"`
	Reason string       `json:"reason,omitempty"`
}

// Resolver is the DNS lookup dependency. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Validator applies the configured policy to URLs. It is stateless and safe
// for concurrent use; the only blocking step is the bounded DNS lookup.
type Validator struct {
	opts     Options
	resolver Resolver
}

// New creates a Validator with the given options.
// If resolver is nil, net.DefaultResolver is used.
func New(opts Options, resolver Resolver) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = DefaultOptions().DNSTimeout
	}
	return &Validator{opts: opts, resolver: resolver}
}

func reject(code ReasonCode, reason string) *Result {
	return &Result{Valid: false, Code: code, Reason: reason}
}

// Validate runs the full check pipeline against rawURL.
//
// The checks run cheapest-first: parse, scheme, hostname blocklist, port,
// domain allowlist, then DNS resolution with per-address range checks.
// No DNS is performed for URLs that fail an earlier step.
//
// On success the Result carries the exact resolved addresses; callers must
// connect to one of those addresses instead of re-resolving the hostname.
func (v *Validator) Validate(ctx context.Context, rawURL string) *Result {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return reject(CodeInvalidURL, "Invalid URL format")
	}

	// Scheme is checked before the host so file:///etc/passwd reports a
	// protocol rejection, not a parse failure.
	if u.Scheme != "http" && u.Scheme != "https" {
		return reject(CodeScheme, fmt.Sprintf("Protocol %q not allowed", u.Scheme))
	}

	if u.Host == "" {
		return reject(CodeInvalidURL, "Invalid URL format")
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return reject(CodeInvalidURL, "Invalid URL format")
	}

	if isBlockedHostname(host, v.opts.BlockMetadataHosts) {
		return reject(CodeHostBlocked, "Hostname is blocked")
	}

	port, err := effectivePort(u)
	if err != nil {
		return reject(CodeInvalidURL, "Invalid URL format")
	}
	if !v.portAllowed(port) {
		return reject(CodePortBlocked, fmt.Sprintf("Port %d is blocked", port))
	}

	if len(v.opts.AllowedDomains) > 0 && !domainAllowed(host, v.opts.AllowedDomains) {
		return reject(CodeDomainNotAllowed, "Domain not in allowed list")
	}

	var addrs []netip.Addr
	if v.opts.BlockPrivateIPs {
		addrs, err = v.resolve(ctx, host)
		if err != nil {
			if isTimeout(err) {
				return reject(CodeDNSTimeout, "DNS lookup timeout")
			}
			return reject(CodeDNSFailure, "Failed to resolve hostname")
		}
		// A single blocked address rejects the whole URL. A hostname with a
		// mixed public/private answer set must not pass just because one
		// address is safe.
		for _, addr := range addrs {
			if v.addrBlocked(addr) {
				return reject(CodeAddrBlocked, fmt.Sprintf("Resolved address %s is blocked", addr))
			}
		}
	} else if v.opts.BlockMetadataHosts {
		// Private-range blocking is off, so no lookup happens, but a literal
		// metadata IP in the URL is still rejected.
		if addr, perr := netip.ParseAddr(host); perr == nil && normalizeAddr(addr) == metadataAddr {
			return reject(CodeAddrBlocked, fmt.Sprintf("Resolved address %s is blocked", normalizeAddr(addr)))
		}
	}

	return &Result{Valid: true, URL: u, Addrs: addrs, Code: CodeOK}
}

// resolve returns all addresses for host, honoring the configured timeout.
// Literal IP hostnames are returned without a lookup.
func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{normalizeAddr(addr)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.opts.DNSTimeout)
	defer cancel()

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, normalizeAddr(a))
	}
	return out, nil
}

// normalizeAddr unmaps IPv4-in-IPv6 addresses and drops any IPv6 zone.
// Prefix.Contains never matches a zoned address, so a link-local literal
// like fe80::1%eth0 would otherwise slip past every range check.
func normalizeAddr(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}

func (v *Validator) addrBlocked(addr netip.Addr) bool {
	addr = normalizeAddr(addr)
	if v.opts.BlockMetadataHosts && addr == metadataAddr {
		return true
	}
	if !v.opts.BlockPrivateIPs {
		return false
	}
	for _, p := range blockedRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (v *Validator) portAllowed(port int) bool {
	if _, blocked := blockedPorts[port]; blocked {
		return false
	}
	if len(v.opts.AllowedPorts) == 0 {
		return true
	}
	for _, p := range v.opts.AllowedPorts {
		if p == port {
			return true
		}
	}
	return false
}

// effectivePort returns the explicit port or the scheme default.
func effectivePort(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return port, nil
	}
	if u.Scheme == "https" {
		return 443, nil
	}
	return 80, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTimeout {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}
