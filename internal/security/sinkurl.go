package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Resolver looks up the addresses of a host name.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// blockedHosts are internal names rejected without resolution.
var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// PublicURLChecker rejects outbound URLs that point at private, loopback,
// link-local or unspecified addresses. Both literal IPs and resolved names
// are checked.
type PublicURLChecker struct {
	resolver Resolver
}

// NewPublicURLChecker creates a checker. A nil resolver uses net.DefaultResolver.
func NewPublicURLChecker(r Resolver) *PublicURLChecker {
	if r == nil {
		r = net.DefaultResolver
	}
	return &PublicURLChecker{resolver: r}
}

// Check returns an error when rawURL is not a public http(s) endpoint.
func (p *PublicURLChecker) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	addrs, err := p.resolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

// DialControl is a net.Dialer Control hook that refuses non-public
// addresses. It runs on the address actually dialed, after name resolution,
// so a host that re-resolves to an internal address after Check passed is
// still refused.
func DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid dial address %q", address)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("dial address %q is not an IP", address)
	}
	if err := checkIP(ip); err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	return nil
}

// PublicTransport returns an HTTP transport whose connections pass
// DialControl. Environment proxies are not used.
func PublicTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   DialControl,
	}).DialContext
	return t
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
