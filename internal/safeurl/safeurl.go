// Package safeurl validates outbound webhook destinations. A URL is
// accepted only when it is http(s) and every address its host resolves
// to is publicly routable. Validation runs at registration and again
// immediately before each send, so a config edited to point at an
// internal address still never produces a request.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var ErrBlockedDestination = errors.New("destination address is not publicly routable")

// Resolver is the subset of net.Resolver the validator needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Validator struct {
	resolver Resolver
}

func NewValidator(r Resolver) *Validator {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Validator{resolver: r}
}

// Validate parses rawURL and checks scheme and destination addresses.
// Any loopback, private, link-local, unspecified or multicast address
// in the resolution set blocks the whole URL.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("url has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if !routable(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedDestination, ip)
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if !routable(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedDestination, host, a.IP)
		}
	}
	return nil
}

func routable(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsUnspecified(),
		ip.IsMulticast():
		return false
	}
	return true
}
