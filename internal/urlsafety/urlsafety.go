// Package urlsafety guards outbound requests against SSRF: it rejects
// targets that resolve to loopback, private, link-local, or otherwise
// non-routable addresses. No library in the pack covers this, so the
// check is hand-built on net/netip.
package urlsafety

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var blockedHostSuffixes = []string{
	"localhost",
	".localhost",
	".local",
	".internal",
}

// CheckURL validates the scheme and, where the host is a literal IP,
// the address itself. Hostnames that must be resolved are checked by
// CheckResolvedIPs after DNS resolution, since the safe moment to block
// a rebinding attack is right before dialing, not at parse time.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	lowerHost := strings.ToLower(host)
	for _, suffix := range blockedHostSuffixes {
		if lowerHost == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(lowerHost, suffix) {
			return fmt.Errorf("host %q is not permitted", host)
		}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if !isPublic(ip) {
			return fmt.Errorf("address %s is not permitted", ip)
		}
	}
	return nil
}

// GuardedDialContext returns an http.Transport DialContext that
// resolves the target host and refuses the dial when any resolved
// address is non-public. Every outbound HTTP client in the system
// (executions, callbacks, notification webhooks) installs this so a
// DNS answer pointing at internal address space is caught at the last
// moment before connecting, not just at URL-validation time.
func GuardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, fmt.Errorf("resolve host: %w", err)
		}
		if err := CheckResolvedIPs(ips); err != nil {
			return nil, fmt.Errorf("blocked by ssrf guard: %w", err)
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// CheckResolvedIPs is called with the addresses a DialContext is about
// to connect to (see GuardedDialContext) and rejects the dial if any
// of them are non-public.
func CheckResolvedIPs(ips []net.IP) error {
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if !isPublic(addr.Unmap()) {
			return fmt.Errorf("address %s is not permitted", addr)
		}
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified(),
		ip.IsInterfaceLocalMulticast():
		return false
	}
	// IPv4 shared address space (RFC 6598, 100.64.0.0/10) and the
	// 0.0.0.0/8 "this network" block — netip has no named helper for
	// these, so they're checked explicitly.
	if ip.Is4() {
		b := ip.As4()
		if b[0] == 100 && b[1] >= 64 && b[1] <= 127 {
			return false
		}
		if b[0] == 0 {
			return false
		}
		if b[0] == 255 && b[1] == 255 && b[2] == 255 && b[3] == 255 {
			return false // limited broadcast
		}
	}
	return true
}
