package egress

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrBlocked is returned for any request outside the allowlist.
var ErrBlocked = errors.New("egress blocked")

// AllowlistRoundTripper enforces HTTPS-only requests to a fixed host allowlist.
type AllowlistRoundTripper struct {
	Base       http.RoundTripper
	Allowlist  map[string]bool
	AllowLocal bool
}

// NewAllowlistRoundTripper returns a RoundTripper that enforces a host allowlist.
func NewAllowlistRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	allowlist := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		allowlist[strings.ToLower(host)] = true
	}
	return &AllowlistRoundTripper{Base: base, Allowlist: allowlist}
}

// NewLocalRoundTripper permits plain-HTTP loopback traffic in addition to the
// allowlist. The document store kernel usually listens on localhost.
func NewLocalRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	rt := NewAllowlistRoundTripper(base, hosts)
	rt.AllowLocal = true
	return rt
}

func (rt *AllowlistRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, ErrBlocked
	}
	host := req.URL.Hostname()
	if host == "" {
		return nil, ErrBlocked
	}
	if rt.AllowLocal && isLoopback(host) {
		return rt.base().RoundTrip(req)
	}
	if req.URL.Scheme != "https" {
		return nil, ErrBlocked
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil, ErrBlocked
	}
	if !rt.Allowlist[strings.ToLower(host)] {
		return nil, ErrBlocked
	}
	return rt.base().RoundTrip(req)
}

func (rt *AllowlistRoundTripper) base() http.RoundTripper {
	if rt.Base == nil {
		return http.DefaultTransport
	}
	return rt.Base
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
