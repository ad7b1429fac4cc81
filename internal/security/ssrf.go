package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"chasingclaw/internal/domain"
)

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		out = append(out, ipnet)
	}
	return out
}()

// Resolver is the subset of *net.Resolver used by ValidateURL.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ValidateURL rejects non-http(s) URLs and hosts that resolve to a
// private or reserved address. A nil resolver uses net.DefaultResolver.
func ValidateURL(ctx context.Context, rawURL string, resolver Resolver) error {
	const op = "ValidateURL"
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrSSRFBlocked, fmt.Sprintf("invalid URL: %v", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return domain.NewDomainError(op, domain.ErrSSRFBlocked, fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return domain.NewDomainError(op, domain.ErrSSRFBlocked, "empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return domain.NewDomainError(op, domain.ErrSSRFBlocked, fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrSSRFBlocked, fmt.Sprintf("DNS lookup failed: %v", err))
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return domain.NewDomainError(op, domain.ErrSSRFBlocked,
				fmt.Sprintf("host %s resolves to private IP %s", host, a.IP))
		}
	}
	return nil
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range privateRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
