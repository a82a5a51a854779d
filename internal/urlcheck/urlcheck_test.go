package urlcheck

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver returns canned answers per hostname without touching the
// network. Unknown hostnames get an NXDOMAIN-style error.
type fakeResolver struct {
	answers map[string][]netip.Addr
	delay   time.Duration
}

func (f *fakeResolver) LookupNetIP(ctx context.Context, _, host string) ([]netip.Addr, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &net.DNSError{Err: "lookup timed out", Name: host, IsTimeout: true}
		}
	}
	addrs, ok := f.answers[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func resolverWith(answers map[string][]netip.Addr) *fakeResolver {
	return &fakeResolver{answers: answers}
}

func mustAddrs(ss ...string) []netip.Addr {
	addrs := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		addrs = append(addrs, netip.MustParseAddr(s))
	}
	return addrs
}

func TestValidate_PublicHostname(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(map[string][]netip.Addr{
		"example.com": mustAddrs("93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"),
	}))

	res := v.Validate(context.Background(), "https://example.com/page")

	require.True(t, res.Valid, "reason: %s", res.Reason)
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, "example.com", res.URL.Hostname())
	assert.Len(t, res.Addrs, 2, "validated addresses must be returned for pinning")
}

func TestValidate_InvalidURL(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(nil))

	for _, raw := range []string{"not-a-url", "", "://missing", "http://", "/relative/path"} {
		res := v.Validate(context.Background(), raw)
		assert.False(t, res.Valid, "input %q", raw)
		assert.Equal(t, CodeInvalidURL, res.Code, "input %q", raw)
		assert.Equal(t, "Invalid URL format", res.Reason, "input %q", raw)
	}
}

func TestValidate_SchemeBlocked(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(nil))

	for _, raw := range []string{"file:///etc/passwd", "ftp://example.com/x", "gopher://example.com"} {
		res := v.Validate(context.Background(), raw)
		assert.False(t, res.Valid, "input %q", raw)
		assert.Equal(t, CodeScheme, res.Code, "input %q", raw)
	}
}

func TestValidate_HostnameBlocklist(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(nil))

	tests := []struct {
		name string
		url  string
	}{
		{"localhost", "http://localhost/admin"},
		{"localhost subdomain", "http://foo.localhost/"},
		{"localhost uppercase", "http://LOCALHOST/"},
		{"localhost trailing dot", "http://localhost./"},
		{"localdomain", "http://localhost.localdomain/"},
		{"kubernetes service", "https://kubernetes.default.svc/api"},
		{"gcp metadata", "http://metadata.google.internal/computeMetadata/v1/"},
		{"ec2 instance data", "http://instance-data/latest/meta-data/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(context.Background(), tc.url)
			assert.False(t, res.Valid)
			assert.Equal(t, CodeHostBlocked, res.Code)
			assert.Equal(t, "Hostname is blocked", res.Reason)
		})
	}
}

func TestValidate_MetadataHostAllowedWhenDisabled(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.BlockMetadataHosts = false
	opts.BlockPrivateIPs = false
	v := New(opts, resolverWith(nil))

	res := v.Validate(context.Background(), "http://metadata.google.internal/")
	assert.True(t, res.Valid)

	// localhost stays blocked regardless of the metadata flag.
	res = v.Validate(context.Background(), "http://localhost/")
	assert.False(t, res.Valid)
}

func TestValidate_PortBlocklist(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(map[string][]netip.Addr{
		"example.com": mustAddrs("93.184.216.34"),
	}))

	res := v.Validate(context.Background(), "https://example.com:5432")
	require.False(t, res.Valid)
	assert.Equal(t, CodePortBlocked, res.Code)
	assert.Equal(t, "Port 5432 is blocked", res.Reason)

	for _, raw := range []string{
		"http://example.com:22/",
		"http://example.com:25/",
		"http://example.com:6379/",
		"http://example.com:27017/",
	} {
		res := v.Validate(context.Background(), raw)
		assert.False(t, res.Valid, "input %q", raw)
		assert.Equal(t, CodePortBlocked, res.Code, "input %q", raw)
	}
}

func TestValidate_PortAllowlist(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.AllowedPorts = []int{443, 8443}
	v := New(opts, resolverWith(map[string][]netip.Addr{
		"example.com": mustAddrs("93.184.216.34"),
	}))

	assert.True(t, v.Validate(context.Background(), "https://example.com/").Valid)
	assert.True(t, v.Validate(context.Background(), "https://example.com:8443/").Valid)

	res := v.Validate(context.Background(), "http://example.com/")
	assert.False(t, res.Valid, "port 80 is outside the allowlist")
	assert.Equal(t, CodePortBlocked, res.Code)

	// Allowlisting a port on the built-in blocklist must not unblock it.
	opts.AllowedPorts = []int{5432}
	v = New(opts, resolverWith(map[string][]netip.Addr{
		"example.com": mustAddrs("93.184.216.34"),
	}))
	res = v.Validate(context.Background(), "https://example.com:5432/")
	assert.False(t, res.Valid)
}

func TestValidate_DomainAllowlist(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.AllowedDomains = []string{"example.com", "trusted.org"}
	v := New(opts, resolverWith(map[string][]netip.Addr{
		"example.com":     mustAddrs("93.184.216.34"),
		"api.example.com": mustAddrs("93.184.216.35"),
		"evil.com":        mustAddrs("198.0.2.1"),
	}))

	assert.True(t, v.Validate(context.Background(), "https://example.com/").Valid)
	assert.True(t, v.Validate(context.Background(), "https://api.example.com/").Valid, "subdomains of allowed domains pass")

	res := v.Validate(context.Background(), "https://evil.com/")
	require.False(t, res.Valid)
	assert.Equal(t, CodeDomainNotAllowed, res.Code)
	assert.Equal(t, "Domain not in allowed list", res.Reason)

	// Suffix match must respect label boundaries.
	res = v.Validate(context.Background(), "https://notexample.com/")
	assert.False(t, res.Valid)
}

func TestValidate_PrivateAddresses(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(nil))

	tests := []struct {
		name string
		url  string
	}{
		{"loopback", "http://127.0.0.1/"},
		{"loopback range", "http://127.8.9.10/"},
		{"rfc1918 10", "http://10.1.2.3/"},
		{"rfc1918 192.168", "http://192.168.1.1/"},
		{"rfc1918 172.16", "http://172.16.0.1/"},
		{"rfc1918 172.31", "http://172.31.255.254/"},
		{"cgnat", "http://100.64.0.1/"},
		{"link local", "http://169.254.1.1/"},
		{"metadata ip", "http://169.254.169.254/latest/meta-data/"},
		{"unspecified", "http://0.0.0.0/"},
		{"ipv6 loopback", "http://[::1]/"},
		{"ipv6 unique local", "http://[fd00::1]/"},
		{"ipv6 link local", "http://[fe80::1]/"},
		{"ipv6 link local zoned", "http://[fe80::1%25eth0]/"},
		{"ipv6 loopback zoned", "http://[::1%25lo0]/"},
		{"ipv4 mapped ipv6", "http://[::ffff:10.0.0.1]/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(context.Background(), tc.url)
			assert.False(t, res.Valid)
			assert.Equal(t, CodeAddrBlocked, res.Code)
		})
	}
}

func TestValidate_MixedAnswerRejected(t *testing.T) {
	t.Parallel()
	// A hostname resolving to both a public and a private address is
	// rejected outright; the stricter address wins.
	v := New(DefaultOptions(), resolverWith(map[string][]netip.Addr{
		"rebind.example.com": mustAddrs("93.184.216.34", "10.0.0.5"),
	}))

	res := v.Validate(context.Background(), "http://rebind.example.com/")
	require.False(t, res.Valid)
	assert.Equal(t, CodeAddrBlocked, res.Code)
}

func TestValidate_ZonedAnswerRejected(t *testing.T) {
	t.Parallel()
	// Prefix.Contains never matches an address carrying an IPv6 zone, so
	// zones must be stripped before range checks or link-local answers
	// would pass.
	v := New(DefaultOptions(), resolverWith(map[string][]netip.Addr{
		"zoned.example.com": {netip.MustParseAddr("fe80::2%eth1")},
	}))

	res := v.Validate(context.Background(), "http://zoned.example.com/")
	require.False(t, res.Valid)
	assert.Equal(t, CodeAddrBlocked, res.Code)
	assert.Equal(t, "Resolved address fe80::2 is blocked", res.Reason)
}

func TestValidate_PrivateAllowedWhenBlockingOff(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.BlockPrivateIPs = false
	v := New(opts, resolverWith(nil))

	res := v.Validate(context.Background(), "http://192.168.1.1:8080/")
	require.True(t, res.Valid)
	assert.Empty(t, res.Addrs, "no resolution happens with private blocking off")

	// The literal metadata IP is still rejected while metadata blocking is on.
	res = v.Validate(context.Background(), "http://169.254.169.254/")
	assert.False(t, res.Valid)
	assert.Equal(t, CodeAddrBlocked, res.Code)
}

func TestValidate_DNSFailure(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(nil))

	res := v.Validate(context.Background(), "http://does-not-exist.example/")
	require.False(t, res.Valid)
	assert.Equal(t, CodeDNSFailure, res.Code)
	assert.Equal(t, "Failed to resolve hostname", res.Reason)
}

func TestValidate_DNSTimeout(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.DNSTimeout = 50 * time.Millisecond
	v := New(opts, &fakeResolver{delay: 5 * time.Second})

	start := time.Now()
	res := v.Validate(context.Background(), "http://slow.example.com/")
	elapsed := time.Since(start)

	require.False(t, res.Valid)
	assert.Equal(t, CodeDNSTimeout, res.Code)
	assert.Equal(t, "DNS lookup timeout", res.Reason)
	assert.Less(t, elapsed, 2*time.Second, "timeout must be enforced, not the resolver's own delay")
}

func TestValidate_NoDNSForEarlyRejections(t *testing.T) {
	t.Parallel()
	// The resolver panics if consulted; policy rejections must short-circuit
	// before any lookup.
	v := New(DefaultOptions(), panicResolver{})

	for _, raw := range []string{
		"not-a-url",
		"ftp://example.com/",
		"http://localhost/",
		"https://example.com:5432/",
	} {
		res := v.Validate(context.Background(), raw)
		assert.False(t, res.Valid, "input %q", raw)
	}
}

type panicResolver struct{}

func (panicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	panic("DNS lookup attempted for a URL that should fail policy checks")
}

func TestValidate_ConcurrentUse(t *testing.T) {
	t.Parallel()
	v := New(DefaultOptions(), resolverWith(map[string][]netip.Addr{
		"example.com": mustAddrs("93.184.216.34"),
	}))

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				res := v.Validate(context.Background(), "https://example.com/")
				if !res.Valid {
					t.Error("expected valid result")
					return
				}
			}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}
