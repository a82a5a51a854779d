package urlcheck

import (
	"net/netip"
	"strings"
)

// metadataAddr is the well-known cloud metadata service address shared by
// AWS, GCP, and Azure instance metadata endpoints.
var metadataAddr = netip.MustParseAddr("169.254.169.254")

// blockedRanges lists address ranges that server-side fetches must never
// reach: RFC1918 private space, loopback, link-local, carrier-grade NAT,
// unspecified, documentation and benchmark ranges, multicast, and the IPv6
// equivalents. IPv4-mapped IPv6 addresses are unmapped before matching.
var blockedRanges = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),        // "this network" / unspecified
	netip.MustParsePrefix("10.0.0.0/8"),       // RFC1918
	netip.MustParsePrefix("100.64.0.0/10"),    // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),      // loopback
	netip.MustParsePrefix("169.254.0.0/16"),   // link-local (incl. metadata)
	netip.MustParsePrefix("172.16.0.0/12"),    // RFC1918
	netip.MustParsePrefix("192.0.0.0/24"),     // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),     // TEST-NET-1
	netip.MustParsePrefix("192.168.0.0/16"),   // RFC1918
	netip.MustParsePrefix("198.18.0.0/15"),    // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"),  // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),   // TEST-NET-3
	netip.MustParsePrefix("224.0.0.0/4"),      // multicast
	netip.MustParsePrefix("240.0.0.0/4"),      // reserved
	netip.MustParsePrefix("::/128"),           // unspecified
	netip.MustParsePrefix("::1/128"),          // loopback
	netip.MustParsePrefix("fc00::/7"),         // unique local
	netip.MustParsePrefix("fe80::/10"),        // link-local
	netip.MustParsePrefix("2001:db8::/32"),    // documentation
	netip.MustParsePrefix("ff00::/8"),         // multicast
}

// blockedHostnames are rejected as exact matches or as parent domains
// (foo.localhost is blocked because localhost is).
var blockedHostnames = []string{
	"localhost",
	"localhost.localdomain",
	"kubernetes.default.svc",
	"kubernetes.default.svc.cluster.local",
}

// metadataHostnames are additionally blocked when metadata blocking is on.
var metadataHostnames = []string{
	"metadata.google.internal",
	"metadata.goog",
	"instance-data",
	"instance-data.ec2.internal",
}

// blockedPorts are ports commonly bound by internal services. Fetches to
// these are rejected even when an explicit port allowlist includes them.
var blockedPorts = map[int]struct{}{
	22:    {}, // SSH
	23:    {}, // telnet
	25:    {}, // SMTP
	135:   {}, // MS RPC
	445:   {}, // SMB
	465:   {}, // SMTPS
	587:   {}, // SMTP submission
	1433:  {}, // SQL Server
	1521:  {}, // Oracle
	2375:  {}, // Docker daemon
	2376:  {}, // Docker daemon TLS
	3306:  {}, // MySQL
	5432:  {}, // PostgreSQL
	6379:  {}, // Redis
	9200:  {}, // Elasticsearch
	11211: {}, // memcached
	27017: {}, // MongoDB
}

// normalizeHost lowercases and strips a trailing dot from a hostname.
func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// isBlockedHostname reports whether host matches the hostname blocklist,
// either exactly or as a subdomain of a blocked name.
func isBlockedHostname(host string, blockMetadata bool) bool {
	if matchesAny(host, blockedHostnames) {
		return true
	}
	return blockMetadata && matchesAny(host, metadataHostnames)
}

// domainAllowed reports whether host equals or is a subdomain of one of the
// allowed domains.
func domainAllowed(host string, allowed []string) bool {
	return matchesAny(host, allowed)
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		d = normalizeHost(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
