package httptool

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"syscall"
)

// AllowList is an immutable set of permitted origins.
type AllowList struct {
	origins map[string]bool
}

// DeniedError reports a destination rejected by the allow-list or the
// hard floor.
type DeniedError struct {
	URL    string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("destination %s denied: %s", e.URL, e.Reason)
}

// metadataAddrs are cloud instance metadata endpoints that sit outside
// the link-local range.
var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("fd00:ec2::254"),
	netip.MustParseAddr("100.100.100.200"),
}

// NewAllowList parses origin entries. An entry is a bare host ("api.example.com"),
// host:port, or a full origin ("http://intranet.example:8080"). Bare
// entries permit https only; an http:// entry permits both schemes.
func NewAllowList(entries []string) (*AllowList, error) {
	a := &AllowList{origins: make(map[string]bool)}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid allow-list entry %q", raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("allow-list entry %q: scheme must be http or https", raw)
		}
		if u.Path != "" && u.Path != "/" {
			return nil, fmt.Errorf("allow-list entry %q: paths are not supported", raw)
		}
		a.origins[origin(u)] = true
		if u.Scheme == "http" {
			u.Scheme = "https"
			a.origins[origin(u)] = true
		}
	}
	return a, nil
}

// ParseAllowList splits a comma separated list of origins.
func ParseAllowList(csv string) (*AllowList, error) {
	return NewAllowList(strings.Split(csv, ","))
}

// Origins returns the permitted origins, sorted.
func (a *AllowList) Origins() []string {
	out := make([]string, 0, len(a.origins))
	for o := range a.origins {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Check reports whether u may be contacted. It performs no I/O.
func (a *AllowList) Check(u *url.URL) error {
	if u == nil {
		return &DeniedError{Reason: "no URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &DeniedError{URL: u.Redacted(), Reason: fmt.Sprintf("scheme %q is not allowed", u.Scheme)}
	}
	if reason := floorReason(u.Hostname()); reason != "" {
		return &DeniedError{URL: u.Redacted(), Reason: reason}
	}
	if a == nil || !a.origins[origin(u)] {
		return &DeniedError{URL: u.Redacted(), Reason: "origin is not in the allow-list"}
	}
	return nil
}

// origin normalizes u to scheme://host[:port], lowercasing the host and
// dropping default ports.
func origin(u *url.URL) string {
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return u.Scheme + "://" + host
}

// floorReason returns why host is unconditionally refused, or "".
func floorReason(host string) string {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "" {
		return "empty host"
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return "localhost is never allowed"
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		return addrFloorReason(addr)
	}
	return ""
}

func addrFloorReason(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return "loopback addresses are never allowed"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local addresses are never allowed"
	case addr.IsUnspecified():
		return "unspecified addresses are never allowed"
	}
	for _, m := range metadataAddrs {
		if addr == m {
			return "metadata addresses are never allowed"
		}
	}
	return ""
}

// dialGuard rejects connections whose resolved address falls under the
// hard floor. It is installed as net.Dialer.Control.
func dialGuard(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("unexpected dial address %q", address)
	}
	if reason := addrFloorReason(addr); reason != "" {
		return &DeniedError{URL: address, Reason: reason}
	}
	return nil
}
